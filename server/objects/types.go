package objects

import (
	"encoding/json"
	"fmt"
)

var typeNames []string

//ObjectType is one of the fixed entity categories moved by a migration.
//The registration order below is the transfer order: parents are always
//transferred before anything that references them.
type ObjectType int

func (t ObjectType) String() string {
	if i := int(t); i <= 0 || i > len(typeNames) {
		return ""
	} else {
		return typeNames[i-1]
	}
}

func (t ObjectType) Valid() bool {
	return int(t) > 0 && int(t) <= len(typeNames)
}

func type_iota(s string) ObjectType {
	typeNames = append(typeNames, s)
	return ObjectType(len(typeNames))
}

var (
	EntryPage = type_iota("entry_page")
	Authors   = type_iota("authors")
	KBs       = type_iota("kbs")
	Sections  = type_iota("sections")
	Tags      = type_iota("tags")
	Posts     = type_iota("posts")
	Widgets   = type_iota("widgets")
	Settings  = type_iota("settings")
)

//SingletonId is the only id of the types that are processed once.
const SingletonId int64 = 1

//All returns every object type in transfer order.
func All() []ObjectType {
	all := make([]ObjectType, len(typeNames))
	for i := range typeNames {
		all[i] = ObjectType(i + 1)
	}
	return all
}

func ParseObjectType(name string) (ObjectType, error) {
	for i := range typeNames {
		if typeNames[i] == name {
			return ObjectType(i + 1), nil
		}
	}
	return ObjectType(0), fmt.Errorf("unknown object type '%s'", name)
}

//IsSingleton reports whether the type is represented by the single sentinel id.
func (t ObjectType) IsSingleton() bool {
	switch t {
	case EntryPage, Widgets, Settings:
		return true
	}
	return false
}

func (t ObjectType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("incorrect object type: %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ObjectType) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t ObjectType) MarshalJSON() ([]byte, error) {
	text, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

func (t *ObjectType) UnmarshalJSON(b []byte) error {
	var s string
	if e := json.Unmarshal(b, &s); e != nil {
		return e
	}
	return t.UnmarshalText([]byte(s))
}
