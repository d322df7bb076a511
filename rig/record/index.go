package record

import (
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/asdine/storm/v3"
)

var ErrExperimentExists = stderrors.New("experiment already exists")

// Index is the searchable catalogue of finished runs. The CSV and its sidecar stay the source of
// truth; the index mirrors the sidecar so runs can be listed and edited without walking the disk.
type Index struct {
	db    *storm.DB
	owned bool
}

func OpenIndex(path string) (i *Index, err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open experiment index: %w", err)
	}
	i, err = NewIndex(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	i.owned = true
	return i, nil
}

// NewIndex uses an already open database, which stays owned by the caller.
func NewIndex(db *storm.DB) (i *Index, err error) {
	if err = db.Init(&Metadata{}); err != nil {
		return nil, fmt.Errorf("unable to init experiment index: %w", err)
	}
	return &Index{db: db}, nil
}

func (i *Index) Close() error {
	if !i.owned {
		return nil
	}
	return i.db.Close()
}

func (i *Index) Put(m Metadata) error {
	return i.db.Save(&m)
}

// All lists every run, oldest first.
func (i *Index) All() (ms []Metadata, err error) {
	err = i.db.Select().OrderBy("Timestamp").Find(&ms)
	if err == storm.ErrNotFound {
		return []Metadata{}, nil
	}
	return
}

func (i *Index) Get(name string) (m Metadata, err error) {
	if err = i.db.One("Name", name, &m); err != nil {
		return m, fmt.Errorf("unable to find experiment %s: %w", name, err)
	}
	return m, nil
}

// Rename moves a run's CSV and sidecar on disk and re-keys it in the index. to is a bare name; the
// run stays in its folder, so a dated run keeps its date prefix.
func (i *Index) Rename(from, to string) (m Metadata, err error) {
	if strings.ContainsAny(to, `/\`) {
		return m, fmt.Errorf("unable to rename %s: %w: %q", from, ErrInvalidName, to)
	}
	to = strings.TrimSuffix(to, EXPERIMENT_EXT)
	if m, err = i.Get(from); err != nil {
		return
	}
	if dir := path.Dir(from); dir != "." {
		to = dir + "/" + to
	}
	if _, err = i.Get(to); err == nil {
		return m, fmt.Errorf("unable to rename %s: %w: %s", from, ErrExperimentExists, to)
	}

	if m.Path != "" {
		newPath := filepath.Join(filepath.Dir(m.Path), path.Base(to)+EXPERIMENT_EXT)
		if err = os.Rename(m.Path, newPath); err != nil {
			return m, fmt.Errorf("unable to rename %s: %w", m.Path, err)
		}
		os.Remove(SidecarPath(m.Path))
		m.Path = newPath
		if _, err = WriteSidecar(m.Path, m); err != nil {
			return m, err
		}
	}

	if err = i.db.DeleteStruct(&Metadata{Name: from}); err != nil {
		return m, err
	}
	m.Name = to
	return m, i.Put(m)
}

// Describe replaces a run's free text description. operator may be empty.
func (i *Index) Describe(name, description, operator string) (m Metadata, err error) {
	if m, err = i.Get(name); err != nil {
		return
	}
	m.Description = description
	m.DescribedBy = operator
	if m.Path != "" {
		if _, err = WriteSidecar(m.Path, m); err != nil {
			return m, err
		}
	}
	return m, i.Put(m)
}

// Delete forgets a run and, when removeFiles is set, deletes its CSV and sidecar.
func (i *Index) Delete(name string, removeFiles bool) (err error) {
	m, err := i.Get(name)
	if err != nil {
		return err
	}
	if err = i.db.DeleteStruct(&m); err != nil {
		return err
	}
	if removeFiles && m.Path != "" {
		if err = os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		os.Remove(SidecarPath(m.Path))
	}
	return nil
}
