package archive

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	rqlParser "github.com/Q-CIS-DEV/go-rql-parser"
	"github.com/pkg/errors"
)

var ErrWrongFilter = errors.New("archive: wrong filter")

//Filter reports whether an artifact matches a parsed RQL expression.
type Filter func(*Artifact) (bool, error)

type operator func(args []interface{}) (Filter, error)

var operators = map[string]operator{}

func init() {
	operators["AND"] = and
	operators["OR"] = or
	operators["NOT"] = not
	operators["EQ"] = compare(func(c int) bool { return c == 0 })
	operators["NE"] = compare(func(c int) bool { return c != 0 })
	operators["LT"] = compare(func(c int) bool { return c < 0 })
	operators["LE"] = compare(func(c int) bool { return c <= 0 })
	operators["GT"] = compare(func(c int) bool { return c > 0 })
	operators["GE"] = compare(func(c int) bool { return c >= 0 })
	operators["LIKE"] = like
}

func matchAll(*Artifact) (bool, error) {
	return true, nil
}

//NewFilter parses an RQL expression over the artifact fields name, size and created,
//e.g. and(like(name,*product*),gt(size,1024)).
func NewFilter(expression string) (Filter, error) {
	if strings.TrimSpace(expression) == "" {
		return matchAll, nil
	}
	parser := rqlParser.NewParser()
	root, err := parser.Parse(expression)
	if err != nil {
		return nil, errors.Wrap(ErrWrongFilter, err.Error())
	}
	if root.Node == nil {
		return matchAll, nil
	}
	return nodeFilter(root.Node)
}

func nodeFilter(node *rqlParser.RqlNode) (Filter, error) {
	op, ok := operators[strings.ToUpper(node.Op)]
	if !ok {
		return nil, errors.Wrapf(ErrWrongFilter, "operator '%s' is unknown", node.Op)
	}
	return op(node.Args)
}

func argFilters(args []interface{}) ([]Filter, error) {
	filters := make([]Filter, 0, len(args))
	for _, arg := range args {
		node, ok := arg.(*rqlParser.RqlNode)
		if !ok {
			return nil, errors.Wrapf(ErrWrongFilter, "unexpected argument '%v'", arg)
		}
		filter, err := nodeFilter(node)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

func and(args []interface{}) (Filter, error) {
	filters, err := argFilters(args)
	if err != nil {
		return nil, err
	}
	return func(a *Artifact) (bool, error) {
		for _, filter := range filters {
			if ok, err := filter(a); err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}, nil
}

func or(args []interface{}) (Filter, error) {
	filters, err := argFilters(args)
	if err != nil {
		return nil, err
	}
	return func(a *Artifact) (bool, error) {
		for _, filter := range filters {
			if ok, err := filter(a); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}, nil
}

func not(args []interface{}) (Filter, error) {
	if len(args) != 1 {
		return nil, errors.Wrap(ErrWrongFilter, "not() takes one expression")
	}
	filters, err := argFilters(args)
	if err != nil {
		return nil, err
	}
	return func(a *Artifact) (bool, error) {
		ok, err := filters[0](a)
		return !ok, err
	}, nil
}

func compare(accept func(int) bool) operator {
	return func(args []interface{}) (Filter, error) {
		field, value, err := fieldAndValue(args)
		if err != nil {
			return nil, err
		}
		switch field {
		case "name", "created":
			return func(a *Artifact) (bool, error) {
				return accept(strings.Compare(stringField(a, field), value)), nil
			}, nil
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrWrongFilter, "size '%s' is not a number", value)
			}
			return func(a *Artifact) (bool, error) {
				switch {
				case a.Size < size:
					return accept(-1), nil
				case a.Size > size:
					return accept(1), nil
				}
				return accept(0), nil
			}, nil
		}
		return nil, errors.Wrapf(ErrWrongFilter, "field '%s' is unknown", field)
	}
}

//like matches name or created against a pattern where * stands for any text.
func like(args []interface{}) (Filter, error) {
	field, pattern, err := fieldAndValue(args)
	if err != nil {
		return nil, err
	}
	if field != "name" && field != "created" {
		return nil, errors.Wrapf(ErrWrongFilter, "like() is not supported for '%s'", field)
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(ErrWrongFilter, "pattern '%s': %s", pattern, err.Error())
	}
	return func(a *Artifact) (bool, error) {
		return filepath.Match(pattern, stringField(a, field))
	}, nil
}

func stringField(a *Artifact, field string) string {
	if field == "created" {
		return a.Created
	}
	return a.Name
}

func fieldAndValue(args []interface{}) (string, string, error) {
	if len(args) != 2 {
		return "", "", errors.Wrapf(ErrWrongFilter, "expected a field and a value, got %d arguments", len(args))
	}
	field, ok := args[0].(string)
	if !ok {
		return "", "", errors.Wrap(ErrWrongFilter, "the field name is not a string")
	}
	raw, ok := args[1].(string)
	if !ok {
		return "", "", errors.Wrapf(ErrWrongFilter, "unknown value type: '%s'", fmt.Sprint(args[1]))
	}
	value, err := url.QueryUnescape(raw)
	if err != nil {
		return "", "", errors.Wrapf(ErrWrongFilter, "can't unescape '%s': %s", raw, err.Error())
	}
	return field, value, nil
}
