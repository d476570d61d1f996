package domain

import (
	"path"
	"strings"
)

// URI schemes.
const (
	SchemeData            = "data"
	SchemeDataPrivate     = "data-private"
	SchemeSnapshot        = "snapshot"
	SchemeSnapshotPrivate = "snapshot-private"
)

// Channel is a processing stage of the catalog.
type Channel string

// Channel constants, in pipeline order.
const (
	ChannelMeadow   Channel = "meadow"
	ChannelGarden   Channel = "garden"
	ChannelGrapher  Channel = "grapher"
	ChannelExplorer Channel = "explorer"
)

var channelOrder = map[Channel]int{
	ChannelMeadow:   0,
	ChannelGarden:   1,
	ChannelGrapher:  2,
	ChannelExplorer: 3,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channelOrder[c]
	return ok
}

// Before reports whether c is an earlier stage than other.
func (c Channel) Before(other Channel) bool {
	return channelOrder[c] < channelOrder[other]
}

// URI identifies a step or a snapshot.
//
//	data://<channel>/<namespace>/<version>/<short_name>
//	snapshot://<namespace>/<version>/<short_name>.<ext>
type URI struct {
	Scheme    string
	Channel   Channel // empty for snapshots
	Namespace string
	Version   string
	ShortName string // includes the file extension for snapshots
}

// ParseURI parses and validates a step or snapshot URI.
func ParseURI(s string) (URI, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return URI{}, ErrValidation("invalid URI %q: missing scheme", s)
	}
	parts := strings.Split(rest, "/")
	for _, p := range parts {
		switch {
		case p == "":
			return URI{}, ErrValidation("invalid URI %q: empty path segment", s)
		case p == "." || p == "..":
			return URI{}, ErrValidation("invalid URI %q: relative path segment %q", s, p)
		case strings.ContainsAny(p, `\:`):
			return URI{}, ErrValidation("invalid URI %q: segment %q contains a path separator", s, p)
		}
	}

	var u URI
	switch scheme {
	case SchemeData, SchemeDataPrivate:
		if len(parts) != 4 {
			return URI{}, ErrValidation("invalid URI %q: expected %s://<channel>/<namespace>/<version>/<short_name>", s, scheme)
		}
		u = URI{Scheme: scheme, Channel: Channel(parts[0]), Namespace: parts[1], Version: parts[2], ShortName: parts[3]}
		if !u.Channel.Valid() {
			return URI{}, ErrValidation("invalid URI %q: unknown channel %q", s, parts[0])
		}
	case SchemeSnapshot, SchemeSnapshotPrivate:
		if len(parts) != 3 {
			return URI{}, ErrValidation("invalid URI %q: expected %s://<namespace>/<version>/<file>", s, scheme)
		}
		u = URI{Scheme: scheme, Namespace: parts[0], Version: parts[1], ShortName: parts[2]}
		if path.Ext(u.ShortName) == "" {
			return URI{}, ErrValidation("invalid URI %q: snapshot file has no extension", s)
		}
	default:
		return URI{}, ErrValidation("invalid URI %q: unknown scheme %q", s, scheme)
	}

	// Versions are always explicit; "latest" would make resolution implicit.
	if u.Version == "latest" {
		return URI{}, ErrValidation("invalid URI %q: version must be explicit, not \"latest\"", s)
	}
	return u, nil
}

// MustParseURI is like ParseURI but panics on error. Intended for tests and
// static step registrations.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical URI form.
func (u URI) String() string {
	if u.IsSnapshot() {
		return u.Scheme + "://" + u.Namespace + "/" + u.Version + "/" + u.ShortName
	}
	return u.Scheme + "://" + string(u.Channel) + "/" + u.Namespace + "/" + u.Version + "/" + u.ShortName
}

// IsSnapshot reports whether u points to a snapshot.
func (u URI) IsSnapshot() bool {
	return u.Scheme == SchemeSnapshot || u.Scheme == SchemeSnapshotPrivate
}

// IsPrivate reports whether u uses a private scheme.
func (u URI) IsPrivate() bool {
	return u.Scheme == SchemeDataPrivate || u.Scheme == SchemeSnapshotPrivate
}

// Path returns the slash-separated location of the artifact relative to its
// root directory (data dir for datasets, snapshot dir for snapshots).
func (u URI) Path() string {
	if u.IsSnapshot() {
		return path.Join(u.Namespace, u.Version, u.ShortName)
	}
	return path.Join(string(u.Channel), u.Namespace, u.Version, u.ShortName)
}

// DatasetName returns the short name without any file extension.
func (u URI) DatasetName() string {
	return strings.TrimSuffix(u.ShortName, path.Ext(u.ShortName))
}
