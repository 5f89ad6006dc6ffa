package mirror

import "fmt"

// OpKind enumerates the pending mutations against the destination tree.
type OpKind int

const (
	// OpCopy copies the source file at RelPath over the destination,
	// unconditionally overwriting whatever is there.
	OpCopy OpKind = iota
	// OpMakeDir materializes the destination directory at RelPath.
	// An already existing directory is success.
	OpMakeDir
	// OpDelete removes the destination entry at RelPath recursively.
	// A missing destination is a harmless no-op.
	OpDelete
	// OpRename moves the destination entry at RelPath to NewRelPath. When
	// the old destination is absent the operation degrades to a copy of
	// the source at NewRelPath.
	OpRename
)

func (k OpKind) String() string {
	switch k {
	case OpCopy:
		return "COPY"
	case OpMakeDir:
		return "MKDIR"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is one pending mutation against the destination tree. It is
// created by the reconciler or the event translator and consumed by the
// serialized apply step.
type Operation struct {
	Kind    OpKind
	RelPath string
	// NewRelPath is only set for OpRename.
	NewRelPath string
}

func (o Operation) String() string {
	if o.Kind == OpRename {
		return fmt.Sprintf("%s %s -> %s", o.Kind, o.RelPath, o.NewRelPath)
	}
	return fmt.Sprintf("%s %s", o.Kind, o.RelPath)
}
