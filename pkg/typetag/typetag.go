// Package typetag defines the portable, codec-neutral type descriptors that
// drive metadata rendering and client-side coercion. Codecs handle wire
// encoding; tags only disambiguate and document shape.
package typetag

import "fmt"

// Kind is the closed set of primitive/structural tag kinds.
type Kind string

const (
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindStr      Kind = "str"
	KindBytes    Kind = "bytes"
	KindNone     Kind = "none"
	KindList     Kind = "list"
	KindMap      Kind = "map"
	KindOptional Kind = "optional"
	KindUnion    Kind = "union"
	KindStream   Kind = "stream"
	KindAny      Kind = "any"
)

// Tag is a portable type descriptor. Structural kinds carry their
// parameters in Elem (list<T>, optional<T>, stream<T>), Key/Elem
// (map<K,V>), or Args (union<T…>).
type Tag struct {
	Kind Kind
	Elem *Tag
	Key  *Tag
	Args []Tag
}

func Int() Tag   { return Tag{Kind: KindInt} }
func Float() Tag { return Tag{Kind: KindFloat} }
func Bool() Tag  { return Tag{Kind: KindBool} }
func Str() Tag   { return Tag{Kind: KindStr} }
func Bytes() Tag { return Tag{Kind: KindBytes} }
func None() Tag  { return Tag{Kind: KindNone} }
func Any() Tag   { return Tag{Kind: KindAny} }

func List(elem Tag) Tag     { return Tag{Kind: KindList, Elem: &elem} }
func Map(key, val Tag) Tag  { return Tag{Kind: KindMap, Key: &key, Elem: &val} }
func Optional(elem Tag) Tag { return Tag{Kind: KindOptional, Elem: &elem} }
func Stream(elem Tag) Tag   { return Tag{Kind: KindStream, Elem: &elem} }
func Union(args ...Tag) Tag { return Tag{Kind: KindUnion, Args: args} }

// IsStream reports whether the tag is stream<T>, returning the element tag.
func (t Tag) IsStream() (Tag, bool) {
	if t.Kind == KindStream && t.Elem != nil {
		return *t.Elem, true
	}
	return Tag{}, false
}

// String renders the tag in its canonical "list<T>" notation, used in
// metadata rendering and error messages.
func (t Tag) String() string {
	switch t.Kind {
	case KindList:
		return fmt.Sprintf("list<%s>", t.Elem)
	case KindMap:
		return fmt.Sprintf("map<%s,%s>", t.Key, t.Elem)
	case KindOptional:
		return fmt.Sprintf("optional<%s>", t.Elem)
	case KindStream:
		return fmt.Sprintf("stream<%s>", t.Elem)
	case KindUnion:
		s := "union<"
		for i, a := range t.Args {
			if i > 0 {
				s += ","
			}
			s += a.String()
		}
		return s + ">"
	default:
		return string(t.Kind)
	}
}

// Equal reports structural equality of two tags, used by the metadata
// determinism property.
func Equal(a, b Tag) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindList, KindOptional, KindStream:
		return equalPtr(a.Elem, b.Elem)
	case KindMap:
		return equalPtr(a.Key, b.Key) && equalPtr(a.Elem, b.Elem)
	case KindUnion:
		if len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !Equal(a.Args[i], b.Args[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func equalPtr(a, b *Tag) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Equal(*a, *b)
}
