package backend

import "time"

// TimeLayout is the ISO 8601 layout of file_time attributes, with the zone
// offset written as ±hh:mm.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// Timestamp formats t in local time using TimeLayout.
func Timestamp(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// RootAttrs returns the attributes written at the root of a newly created
// file.
func RootAttrs(filename string, now time.Time) []Attribute {
	str := func(name, v string) Attribute {
		return Attribute{AttrInfo: AttrInfo{Name: name, Length: len(v), Type: Char}, Value: v}
	}
	return []Attribute{
		str("NeXus_version", Version),
		str("file_name", filename),
		str("file_time", Timestamp(now)),
	}
}
