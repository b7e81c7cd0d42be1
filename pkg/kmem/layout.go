package kmem

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Kind describes how the bytes of a field are interpreted.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt          // signed integer, sign extended
	KindUint         // unsigned integer
	KindBool         // boolean, any non zero byte is true
	KindEnum         // signed integer with enumerator names
	KindPointer      // address of an object of type Type
	KindStruct       // inline structure of type Type
	KindArray        // inline array of Count elements described by Elem
	KindChars        // inline NUL terminated character buffer
	KindCString      // pointer to a NUL terminated string
)

var kindNames = map[Kind]string{
	KindInt:     "int",
	KindUint:    "uint",
	KindBool:    "bool",
	KindEnum:    "enum",
	KindPointer: "pointer",
	KindStruct:  "struct",
	KindArray:   "array",
	KindChars:   "chars",
	KindCString: "cstring",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger returns true if values of kind k are read as integers.
func (k Kind) IsInteger() bool {
	switch k {
	case KindInt, KindUint, KindBool, KindEnum, KindPointer:
		return true
	}
	return false
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown field kind %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// Field describes one member of a structure.
type Field struct {
	Name   string `yaml:"name"`
	Offset uint64 `yaml:"offset"`
	Size   uint64 `yaml:"size"`
	Kind   Kind   `yaml:"kind"`
	// Type is the name of the structure (KindStruct), of the pointed
	// object (KindPointer) or of the enumeration (KindEnum).
	Type string `yaml:"type,omitempty"`
	// Count is the number of elements of an array. Zero means a flexible
	// array member whose length is stored elsewhere.
	Count int    `yaml:"count,omitempty"`
	Elem  *Field `yaml:"elem,omitempty"`
}

// StructLayout is the layout of a named structure.
type StructLayout struct {
	Name   string  `yaml:"name"`
	Size   uint64  `yaml:"size"`
	Fields []Field `yaml:"fields"`

	byName map[string]int
}

// Field returns the field called name.
func (s *StructLayout) Field(name string) (*Field, bool) {
	if s.byName == nil {
		s.index()
	}
	i, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return &s.Fields[i], true
}

func (s *StructLayout) index() {
	s.byName = make(map[string]int, len(s.Fields))
	for i := range s.Fields {
		s.byName[s.Fields[i].Name] = i
	}
}

// Layouts is the set of structure layouts and enumerations known for the
// inspected kernel.
type Layouts struct {
	PointerSize int

	structs   map[string]*StructLayout
	enums     map[string]map[string]int64
	enumNames map[string]map[int64]string
	constants map[string]int64
}

type layoutFile struct {
	PointerSize int                         `yaml:"pointer-size"`
	Structs     []*StructLayout             `yaml:"structs"`
	Enums       map[string]map[string]int64 `yaml:"enums"`
}

// NewLayouts returns an empty set of layouts for a target with the given
// pointer size.
func NewLayouts(pointerSize int) *Layouts {
	return &Layouts{
		PointerSize: pointerSize,
		structs:     make(map[string]*StructLayout),
		enums:       make(map[string]map[string]int64),
		enumNames:   make(map[string]map[int64]string),
		constants:   make(map[string]int64),
	}
}

// LoadLayouts reads a YAML layout file.
func LoadLayouts(path string) (*Layouts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := ParseLayouts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// ParseLayouts parses the YAML representation of a layout file.
func ParseLayouts(data []byte) (*Layouts, error) {
	var lf layoutFile
	if err := yaml.UnmarshalStrict(data, &lf); err != nil {
		return nil, err
	}
	if lf.PointerSize == 0 {
		lf.PointerSize = 4
	}
	l := NewLayouts(lf.PointerSize)
	for _, s := range lf.Structs {
		if err := l.AddStruct(s); err != nil {
			return nil, err
		}
	}
	enumNames := make([]string, 0, len(lf.Enums))
	for name := range lf.Enums {
		enumNames = append(enumNames, name)
	}
	sort.Strings(enumNames)
	for _, name := range enumNames {
		if err := l.AddEnum(name, lf.Enums[name]); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddStruct registers a structure layout, validating its fields.
func (l *Layouts) AddStruct(s *StructLayout) error {
	if s.Name == "" {
		return fmt.Errorf("structure without a name")
	}
	if _, dup := l.structs[s.Name]; dup {
		return fmt.Errorf("duplicate structure %q", s.Name)
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if err := l.checkField(f); err != nil {
			return fmt.Errorf("struct %s: %w", s.Name, err)
		}
		if s.Size != 0 && f.Offset+f.Size > s.Size {
			return fmt.Errorf("struct %s: field %s extends past the end of the structure", s.Name, f.Name)
		}
	}
	s.index()
	l.structs[s.Name] = s
	return nil
}

func (l *Layouts) checkField(f *Field) error {
	switch f.Kind {
	case KindInt, KindUint, KindEnum:
		switch f.Size {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("field %s: bad integer size %d", f.Name, f.Size)
		}
	case KindBool:
		if f.Size == 0 {
			f.Size = 1
		}
	case KindPointer, KindCString:
		if f.Size == 0 {
			f.Size = uint64(l.PointerSize)
		}
		if f.Size != uint64(l.PointerSize) {
			return fmt.Errorf("field %s: pointer size %d does not match target pointer size %d", f.Name, f.Size, l.PointerSize)
		}
	case KindStruct:
		if f.Type == "" {
			return fmt.Errorf("field %s: inline structure without a type", f.Name)
		}
	case KindArray:
		if f.Elem == nil {
			return fmt.Errorf("field %s: array without an element description", f.Name)
		}
		if err := l.checkField(f.Elem); err != nil {
			return err
		}
		if f.Elem.Size == 0 {
			return fmt.Errorf("field %s: zero sized array element", f.Name)
		}
		if f.Size == 0 {
			f.Size = uint64(f.Count) * f.Elem.Size
		}
	case KindChars:
		if f.Size == 0 {
			return fmt.Errorf("field %s: character buffer without a size", f.Name)
		}
	default:
		return fmt.Errorf("field %s: invalid kind", f.Name)
	}
	return nil
}

// AddEnum registers the enumerators of an enumeration. Enumerator names
// are also made available as constants.
func (l *Layouts) AddEnum(name string, values map[string]int64) error {
	if _, dup := l.enums[name]; dup {
		return fmt.Errorf("duplicate enumeration %q", name)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// aliases of the same value resolve to the first name in sorted order
	sort.Strings(keys)
	m := make(map[string]int64, len(values))
	names := make(map[int64]string, len(values))
	for _, k := range keys {
		v := values[k]
		if old, dup := l.constants[k]; dup && old != v {
			return fmt.Errorf("enumerator %s redefined with a different value", k)
		}
		m[k] = v
		if _, dup := names[v]; !dup {
			names[v] = k
		}
		l.constants[k] = v
	}
	l.enums[name] = m
	l.enumNames[name] = names
	return nil
}

// Struct returns the layout of the named structure.
func (l *Layouts) Struct(name string) (*StructLayout, error) {
	s, ok := l.structs[name]
	if !ok {
		return nil, &LookupError{What: "type", Name: name}
	}
	return s, nil
}

// Layout implements LayoutSource.
func (l *Layouts) Layout(typ string) (*StructLayout, error) {
	return l.Struct(typ)
}

// Constant returns the value of an enumerator.
func (l *Layouts) Constant(name string) (int64, error) {
	v, ok := l.constants[name]
	if !ok {
		return 0, &LookupError{What: "constant", Name: name}
	}
	return v, nil
}

// EnumName returns the name of the enumerator of enum with the given value.
func (l *Layouts) EnumName(enum string, value int64) (string, bool) {
	name, ok := l.enumNames[enum][value]
	return name, ok
}

// LayoutSource is implemented by anything that can return structure
// layouts by name.
type LayoutSource interface {
	Layout(typ string) (*StructLayout, error)
}

// ResolveField resolves a possibly dotted field path ("wobj.type") starting
// at structure typ. It returns the offset of the field from the beginning
// of typ and the field's description.
func ResolveField(src LayoutSource, typ, path string) (uint64, *Field, error) {
	var off uint64
	cur := typ
	parts := strings.Split(path, ".")
	for i, name := range parts {
		s, err := src.Layout(cur)
		if err != nil {
			return 0, nil, err
		}
		f, ok := s.Field(name)
		if !ok {
			return 0, nil, &LookupError{What: "field", Name: cur + "." + name}
		}
		off += f.Offset
		if i == len(parts)-1 {
			return off, f, nil
		}
		if f.Kind != KindStruct {
			return 0, nil, &LookupError{What: "field", Name: cur + "." + strings.Join(parts[i:], ".")}
		}
		cur = f.Type
	}
	panic("unreachable")
}
