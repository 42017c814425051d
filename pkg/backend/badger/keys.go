package badger

import (
	"github.com/google/uuid"
)

// Database Key Namespace Design
// ==============================
//
// A kv container is a BadgerDB directory. Groups and datasets are nodes
// identified by a random UUID; the tree shape lives entirely in child edges,
// so a hard link is just a second edge to the same node.
//
// Key Namespace Prefixes:
//
// Data Type        Prefix   Key Format                    Value Type
// ====================================================================
// Root Node        "r:"     r:root                        rootUUID (bytes)
// Node Record      "n:"     n:<uuid>                      nodeRecord (XDR)
// Children Map     "c:"     c:<parentUUID>:<childName>    childUUID (bytes)
// Attributes       "a:"     a:<uuid>:<attrName>           attrRecord (XDR)
// Dataset Payload  "d:"     d:<uuid>                      payload (XDR)
//
// Children and attributes are listed with prefix scans, so both come back
// sorted by name.
//
// Native external links are nodes whose record carries the mount URL; they
// have no key prefix of their own.

const (
	prefixRoot  = "r:"
	prefixNode  = "n:"
	prefixChild = "c:"
	prefixAttr  = "a:"
	prefixData  = "d:"
)

// keyRoot is the singleton key holding the root node id.
func keyRoot() []byte {
	return []byte(prefixRoot + "root")
}

// keyNode generates the key of a node record.
//
// Format: "n:<uuid>"
func keyNode(id uuid.UUID) []byte {
	return []byte(prefixNode + id.String())
}

// keyChild generates the key of a child edge.
//
// Format: "c:<parentUUID>:<childName>"
func keyChild(parent uuid.UUID, name string) []byte {
	return []byte(prefixChild + parent.String() + ":" + name)
}

// keyChildPrefix is the scan prefix for all children of parent.
func keyChildPrefix(parent uuid.UUID) []byte {
	return []byte(prefixChild + parent.String() + ":")
}

// keyAttr generates the key of an attribute.
//
// Format: "a:<uuid>:<attrName>"
func keyAttr(id uuid.UUID, name string) []byte {
	return []byte(prefixAttr + id.String() + ":" + name)
}

// keyAttrPrefix is the scan prefix for all attributes of a node.
func keyAttrPrefix(id uuid.UUID) []byte {
	return []byte(prefixAttr + id.String() + ":")
}

// keyData generates the key of a dataset payload.
//
// Format: "d:<uuid>"
func keyData(id uuid.UUID) []byte {
	return []byte(prefixData + id.String())
}
