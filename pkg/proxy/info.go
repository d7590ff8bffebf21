package proxy

import "github.com/taciclei/magneto-serge-sub000/pkg/cassette"

// CassetteInfo reports metadata about the cassette at path, without the caller needing to reach
// into the configured Store directly. Mirrors Store.Stat; the CLI's
// "info" command does not use it and calls Store.Stat on the file itself.
func (s *Server) CassetteInfo(path string) (cassette.Metadata, error) {
	if s.store == nil {
		return cassette.Metadata{}, cassette.ErrCassetteNotFound
	}
	return s.store.Stat(path)
}

// ActiveCassetteName returns the name of the cassette currently being
// recorded, or the empty string if the recorder is idle.
func (s *Server) ActiveCassetteName() string {
	if s.rec == nil {
		return ""
	}
	return s.rec.CassetteName()
}
