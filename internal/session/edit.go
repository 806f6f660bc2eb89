package session

import (
	"fmt"

	"csvconf/internal/schema"
)

type editKind int

const (
	editSetType editKind = iota + 1
	editSetRole
	editClearType
)

// Edit is one user change to a session's schema. Build it with SetType,
// SetRole or ClearType.
type Edit struct {
	kind  editKind
	Index int
	Type  schema.Type
	Role  schema.Role
}

// SetType overrides the type of column i.
func SetType(i int, t schema.Type) Edit {
	return Edit{kind: editSetType, Index: i, Type: t}
}

// SetRole assigns r to column i, taking it from any other holder.
// schema.None clears the column's role.
func SetRole(i int, r schema.Role) Edit {
	return Edit{kind: editSetRole, Index: i, Role: r}
}

// ClearType drops the user override of column i.
func ClearType(i int) Edit {
	return Edit{kind: editClearType, Index: i}
}

func (e Edit) String() string {
	switch e.kind {
	case editSetType:
		return fmt.Sprintf("set-type %d %s", e.Index, e.Type)
	case editSetRole:
		if e.Role == schema.None {
			return fmt.Sprintf("clear-role %d", e.Index)
		}
		return fmt.Sprintf("set-role %d %s", e.Index, e.Role)
	case editClearType:
		return fmt.Sprintf("clear-type %d", e.Index)
	default:
		return "invalid edit"
	}
}

func (e Edit) apply(s *schema.Schema) error {
	switch e.kind {
	case editSetType:
		if err := s.SetType(e.Index, e.Type); err != nil {
			return err
		}
		return dropIneligibleRole(s, e.Index)
	case editClearType:
		if err := s.ClearType(e.Index); err != nil {
			return err
		}
		return dropIneligibleRole(s, e.Index)
	case editSetRole:
		if e.Role != schema.None {
			t, err := s.EffectiveType(e.Index)
			if err != nil {
				return err
			}
			if t != schema.Real {
				return fmt.Errorf("%w: column %d is %s", ErrIneligibleColumn, e.Index, t)
			}
		}
		return s.SetRole(e.Index, e.Role)
	default:
		return fmt.Errorf("session: invalid edit")
	}
}

// dropIneligibleRole clears the role of column i once its effective type is
// no longer Real. Coordinate holders are always Real.
func dropIneligibleRole(s *schema.Schema, i int) error {
	if s.Columns[i].Role == schema.None || s.Columns[i].Effective() == schema.Real {
		return nil
	}
	return s.SetRole(i, schema.None)
}
