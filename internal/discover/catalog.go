package discover

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/snapp-incubator/mokzi/internal/mock"
)

// Entry is one cataloged mock with what is known about its file.
type Entry struct {
	Record  *mock.Record
	ModTime time.Time
	Size    int64
	// PathViolated is set when the file name or method folder no longer
	// matches the record.
	PathViolated bool
	// Outline is a short label of the response body.
	Outline string
}

func newEntry(r *mock.Record, info os.FileInfo) *Entry {
	return &Entry{
		Record:       r,
		ModTime:      info.ModTime(),
		Size:         info.Size(),
		PathViolated: r.IsFilePathViolated(),
		Outline:      r.ResponseBody.Outline(),
	}
}

// unchanged reports whether info still describes the file e was read from.
func (e *Entry) unchanged(info os.FileInfo) bool {
	return e.ModTime.Equal(info.ModTime()) && e.Size == info.Size()
}

func (e *Entry) clone() Entry {
	c := *e
	c.Record = e.Record.Clone()
	return c
}

func (e *Entry) matches(query string) bool {
	if query == "" {
		return true
	}
	for _, field := range []string{e.Record.URL, e.Record.Scenario, e.Outline} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// entries returns cloned entries of catalog that match query, ordered by URL,
// method and id.
func entries(catalog map[string]*Entry, query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]Entry, 0, len(catalog))
	for _, e := range catalog {
		if e.matches(query) {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Record, out[j].Record
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		return a.ID < b.ID
	})
	return out
}

// byPath indexes catalog by file path.
func byPath(catalog map[string]*Entry) map[string]*Entry {
	out := make(map[string]*Entry, len(catalog))
	for _, e := range catalog {
		out[e.Record.FilePath] = e
	}
	return out
}
