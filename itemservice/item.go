// Package itemservice is the hand-written equivalent of the stubs an IDL
// compiler would emit for:
//
//	service ItemService {
//	    GetItemResponse GetItem(1: GetItemRequest req) throws (1: ItemNotFound nf)
//	    oneway void ReportView(1: ViewEvent ev)
//	}
//
// It demonstrates the shape generated code takes against the core: plain
// structs implementing codec.Message, a package-level descriptor, and thin
// typed wrappers over server and client.
package itemservice

import (
	"fmt"

	"muxrpc/codec"
)

type Item struct {
	ID      int64
	Title   string
	Content string
	Extra   map[string]string
}

func (it *Item) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(it.ID)
	w.WriteFieldBegin(2, codec.TypeString)
	w.WriteString(it.Title)
	w.WriteFieldBegin(3, codec.TypeString)
	w.WriteString(it.Content)
	if it.Extra != nil {
		w.WriteFieldBegin(4, codec.TypeMap)
		w.WriteMapBegin(codec.TypeString, codec.TypeString, len(it.Extra))
		for k, v := range it.Extra {
			w.WriteString(k)
			w.WriteString(v)
		}
	}
	w.WriteFieldStop()
	return nil
}

func (it *Item) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		switch id {
		case 1:
			if it.ID, err = r.ReadI64(); err != nil {
				return err
			}
		case 2:
			if it.Title, err = r.ReadString(); err != nil {
				return err
			}
		case 3:
			if it.Content, err = r.ReadString(); err != nil {
				return err
			}
		case 4:
			_, _, n, err := r.ReadMapBegin()
			if err != nil {
				return err
			}
			it.Extra = make(map[string]string, n)
			for i := 0; i < n; i++ {
				k, err := r.ReadString()
				if err != nil {
					return err
				}
				v, err := r.ReadString()
				if err != nil {
					return err
				}
				it.Extra[k] = v
			}
		default:
			if err := r.Skip(ft); err != nil {
				return err
			}
		}
	}
}

type GetItemRequest struct {
	ID int64
}

func (m *GetItemRequest) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(m.ID)
	w.WriteFieldStop()
	return nil
}

func (m *GetItemRequest) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		if id == 1 && ft == codec.TypeI64 {
			if m.ID, err = r.ReadI64(); err != nil {
				return err
			}
			continue
		}
		if err := r.Skip(ft); err != nil {
			return err
		}
	}
}

type GetItemResponse struct {
	Item Item
}

func (m *GetItemResponse) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeStruct)
	if err := m.Item.MarshalWire(w); err != nil {
		return err
	}
	w.WriteFieldStop()
	return nil
}

func (m *GetItemResponse) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		if id == 1 && ft == codec.TypeStruct {
			if err := m.Item.UnmarshalWire(r); err != nil {
				return err
			}
			continue
		}
		if err := r.Skip(ft); err != nil {
			return err
		}
	}
}

// ItemNotFound is the exception GetItem declares. It implements both
// codec.Message and error, so handlers return it and callers receive it as
// a typed error.
type ItemNotFound struct {
	ID int64
}

func (e *ItemNotFound) Error() string {
	return fmt.Sprintf("item %d not found", e.ID)
}

func (e *ItemNotFound) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(e.ID)
	w.WriteFieldStop()
	return nil
}

func (e *ItemNotFound) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		if id == 1 && ft == codec.TypeI64 {
			if e.ID, err = r.ReadI64(); err != nil {
				return err
			}
			continue
		}
		if err := r.Skip(ft); err != nil {
			return err
		}
	}
}

// ViewEvent is the one-way ReportView payload.
type ViewEvent struct {
	ItemID int64
	Viewer string
}

func (m *ViewEvent) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(m.ItemID)
	w.WriteFieldBegin(2, codec.TypeString)
	w.WriteString(m.Viewer)
	w.WriteFieldStop()
	return nil
}

func (m *ViewEvent) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		switch id {
		case 1:
			if m.ItemID, err = r.ReadI64(); err != nil {
				return err
			}
		case 2:
			if m.Viewer, err = r.ReadString(); err != nil {
				return err
			}
		default:
			if err := r.Skip(ft); err != nil {
				return err
			}
		}
	}
}
