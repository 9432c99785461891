package mirror

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mirrorctl/topomirror/internal/artifact"
)

const manifestHeader = "Series,Version,Cell ID,Map Name,Cell Name,Primary State,Byte Count,Download GeoPDF\n"

type zipMember struct {
	name string
	body []byte
}

// makeZip builds an archive holding members in order. Names ending in "/"
// become directory entries.
func makeZip(t *testing.T, members ...zipMember) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasSuffix(m.name, "/") {
			continue
		}
		if _, err := w.Write(m.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// pdf returns n bytes of fake map content.
func pdf(n int) []byte {
	b := bytes.Repeat([]byte("%PDF"), n/4+1)
	return b[:n]
}

// stagedFrom writes data into a fresh staging area and returns it as a
// downloaded artifact.
func stagedFrom(t *testing.T, data []byte) *StagingArtifact {
	t.Helper()

	st, err := NewStorage(filepath.Join(t.TempDir(), stagingDirName))
	if err != nil {
		t.Fatal(err)
	}
	f, err := st.TempFile()
	if err != nil {
		t.Fatal(err)
	}
	a := newStagingArtifact("https://example.com/test.zip", f)
	fi, err := artifact.CopyWithFileInfo(f, bytes.NewReader(data), f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	a.fi = fi
	t.Cleanup(func() { _ = a.Release() })
	return a
}

// archiveServer serves zip archives by path and counts requests.
type archiveServer struct {
	*httptest.Server

	requests atomic.Int64

	mu         sync.Mutex
	archives   map[string][]byte
	statuses   map[string]int
	userAgents []string
}

func newArchiveServer(t *testing.T) *archiveServer {
	t.Helper()

	s := &archiveServer{
		archives: make(map[string][]byte),
		statuses: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)

		s.mu.Lock()
		s.userAgents = append(s.userAgents, r.UserAgent())
		status, hasStatus := s.statuses[r.URL.Path]
		data, ok := s.archives[r.URL.Path]
		s.mu.Unlock()

		if hasStatus {
			w.WriteHeader(status)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) serve(p string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[p] = data
	return s.URL + p
}

func (s *archiveServer) fail(p string, status int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[p] = status
	return s.URL + p
}

func (s *archiveServer) lastUserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.userAgents) == 0 {
		return ""
	}
	return s.userAgents[len(s.userAgents)-1]
}

// manifestRow is one current US Topo row.
type manifestRow struct {
	cellID, name, region string
	size                 int
	url                  string
}

// writeManifest writes a plain CSV manifest into dir and returns its path.
func writeManifest(t *testing.T, dir string, rows ...manifestRow) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(manifestHeader)
	for _, r := range rows {
		fmt.Fprintf(&b, "US Topo,Current,%s,%s,%s,%s,%d,%s\n", r.cellID, r.name, r.name, r.region, r.size, r.url)
	}
	p := filepath.Join(dir, "ustopo_current.csv")
	if err := os.WriteFile(p, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// stagingFiles lists what is left in the staging directory below root.
func stagingFiles(t *testing.T, root string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(root, stagingDirName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
