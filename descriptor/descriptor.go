// Package descriptor describes a service as consumed from the external stub
// generator: the method set, the factories for each method's request,
// response, and declared exception types, and the one-way flag.
//
// A Service is built once at process start and never mutated afterwards, so
// every connection shares it without locking.
package descriptor

import (
	"fmt"

	"muxrpc/codec"
)

// Method describes one callable method. The New* funcs stand in for
// generated type constructors; the dispatch core calls them to obtain empty
// values to decode into.
type Method struct {
	Name        string
	NewRequest  func() codec.Message
	NewResponse func() codec.Message // nil for one-way methods
	// NewException is nil when the method declares no exception. A declared
	// exception type must also implement error so callers receive it as one.
	NewException func() codec.Message
	OneWay       bool
}

// Service is the immutable descriptor for one service.
type Service struct {
	name    string
	methods []*Method
	byName  map[string]*Method
}

// NewService validates and assembles a descriptor. It fails on duplicate or
// incomplete method entries rather than at dispatch time.
func NewService(name string, methods ...*Method) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("descriptor: service name must not be empty")
	}
	s := &Service{
		name:    name,
		methods: methods,
		byName:  make(map[string]*Method, len(methods)),
	}
	for _, m := range methods {
		if m.Name == "" {
			return nil, fmt.Errorf("descriptor: %s has a method with no name", name)
		}
		if _, dup := s.byName[m.Name]; dup {
			return nil, fmt.Errorf("descriptor: %s declares method %s twice", name, m.Name)
		}
		if m.NewRequest == nil {
			return nil, fmt.Errorf("descriptor: %s.%s has no request type", name, m.Name)
		}
		if m.OneWay {
			if m.NewResponse != nil || m.NewException != nil {
				return nil, fmt.Errorf("descriptor: one-way %s.%s cannot declare a response or exception", name, m.Name)
			}
		} else if m.NewResponse == nil {
			return nil, fmt.Errorf("descriptor: %s.%s has no response type", name, m.Name)
		}
		s.byName[m.Name] = m
	}
	return s, nil
}

// MustNewService is NewService for package-level descriptor variables in
// generated code, where a bad descriptor is a programming error.
func MustNewService(name string, methods ...*Method) *Service {
	s, err := NewService(name, methods...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Service) Name() string {
	return s.name
}

// Lookup resolves a method by name.
func (s *Service) Lookup(method string) (*Method, bool) {
	m, ok := s.byName[method]
	return m, ok
}

// Methods returns the method set in declaration order. Callers must treat
// the slice as read-only.
func (s *Service) Methods() []*Method {
	return s.methods
}
