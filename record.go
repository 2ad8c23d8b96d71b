package adclient

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// DirectoryRecord is a generic attribute map plus the record's
// distinguished name. Records are immutable once produced by a query;
// mapping to application DTOs happens outside this layer.
type DirectoryRecord struct {
	DN         string
	Attributes map[string][]string
}

// Get returns the first value of the named attribute, or "".
func (r DirectoryRecord) Get(name string) string {
	if vals := r.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Values returns all values of the named attribute.
func (r DirectoryRecord) Values(name string) []string {
	return r.Attributes[name]
}

// Attributes Active Directory stores in binary form. These are decoded to
// their canonical string representations during record construction.
const (
	attrObjectGUID = "objectGUID"
	attrObjectSID  = "objectSid"
)

// recordFromEntry converts a raw LDAP entry into a DirectoryRecord,
// decoding binary objectGUID and objectSid values into their string forms.
func recordFromEntry(entry *ldap.Entry) DirectoryRecord {
	rec := DirectoryRecord{
		DN:         entry.DN,
		Attributes: make(map[string][]string, len(entry.Attributes)),
	}

	for _, attr := range entry.Attributes {
		switch attr.Name {
		case attrObjectGUID:
			if len(attr.ByteValues) > 0 {
				if guid, err := guidBytesToString(attr.ByteValues[0]); err == nil {
					rec.Attributes[attr.Name] = []string{guid}
					continue
				}
			}
			rec.Attributes[attr.Name] = attr.Values
		case attrObjectSID:
			if len(attr.ByteValues) > 0 {
				if sid := sidBytesToString(attr.ByteValues[0]); sid != "" {
					rec.Attributes[attr.Name] = []string{sid}
					continue
				}
			}
			rec.Attributes[attr.Name] = attr.Values
		default:
			rec.Attributes[attr.Name] = attr.Values
		}
	}

	return rec
}

// guidBytesToString converts a binary objectGUID to hyphenated form.
// Active Directory stores GUIDs mixed-endian: the first three groups are
// little-endian, the last eight bytes big-endian.
func guidBytesToString(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("GUID must be 16 bytes, got %d", len(b))
	}
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	), nil
}

// sidBytesToString converts a binary objectSid to S-1-5-21-... form,
// returning "" for malformed input.
func sidBytesToString(b []byte) (sid string) {
	// objectsid.Decode panics on truncated input rather than returning an
	// error; a stale or corrupt attribute must not take the query down.
	defer func() {
		if recover() != nil {
			sid = ""
		}
	}()
	if len(b) < 8 {
		return ""
	}
	return objectsid.Decode(b).String()
}
