package filterlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/subscription"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// formatVersion is the version of the storage file format.
const formatVersion = 4

// fileHeader is the first line of a storage file.
const fileHeader = "# Adblock Plus preferences"

// maxLineLength is the maximum length of a line of a storage file.
const maxLineLength = 1 << 20

// errNoPath is returned by the file operations if there is no file configured.
const errNoPath errors.Error = "no storage file path"

var (
	// keyValueRe matches a key-value line of an object section.
	keyValueRe = regexp.MustCompile(`^(\w+)=(.*)$`)

	// sectionRe matches a section header.
	sectionRe = regexp.MustCompile(`^\s*\[(.+)\]\s*$`)
)

// sectionMode is the kind of contents a section of a storage file has.
type sectionMode uint8

// sectionMode values.
const (
	sectionIgnored sectionMode = iota
	sectionObject
	sectionList
)

// iniParser reads the sections of a storage file.
type iniParser struct {
	registry *filters.Registry

	// obj is the current object section.
	obj map[string]string

	// section is the lower-cased name of the current section.
	section string

	subs        []*subscription.Subscription
	userFilters []string

	// list is the current list section.
	list []string

	mode sectionMode
}

// newINIParser returns a parser that expects the file header.
func newINIParser(reg *filters.Registry) (p *iniParser) {
	return &iniParser{
		registry: reg,
		obj:      map[string]string{},
		mode:     sectionObject,
	}
}

// process handles a single line.
func (p *iniParser) process(line string) {
	if p.mode == sectionObject {
		if m := keyValueRe.FindStringSubmatch(line); m != nil {
			p.obj[m[1]] = m[2]

			return
		}
	}

	if m := sectionRe.FindStringSubmatch(line); m != nil {
		p.finishSection()
		p.startSection(strings.ToLower(m[1]))

		return
	}

	if p.mode == sectionList && line != "" {
		p.list = append(p.list, strings.ReplaceAll(line, `\[`, "["))
	}
}

// startSection resets the state for a new section.
func (p *iniParser) startSection(name string) {
	p.section = name
	p.obj, p.list = nil, nil

	switch name {
	case "filter", "pattern", "subscription":
		p.mode = sectionObject
		p.obj = map[string]string{}
	case "subscription filters", "subscription patterns", "user patterns":
		p.mode = sectionList
	default:
		p.mode = sectionIgnored
	}
}

// finishSection applies the contents of the current section.
func (p *iniParser) finishSection() {
	switch p.section {
	case "filter", "pattern":
		p.registry.FromObject(p.obj)
	case "subscription":
		if sub := subscription.FromObject(p.obj); sub != nil {
			p.subs = append(p.subs, sub)
		}
	case "subscription filters", "subscription patterns":
		if len(p.subs) == 0 {
			return
		}

		sub := p.subs[len(p.subs)-1]
		fs := sub.Filters()
		for _, text := range p.list {
			if f := p.registry.FromText(text); f != nil {
				fs = append(fs, f)
			}
		}

		sub.SetFilters(fs)
	case "user patterns":
		p.userFilters = p.list
	default:
		// The header and unknown sections.
	}
}

// Load replaces the contents of the storage with the data from r.  The
// storage isn't changed if r cannot be read.
func (s *Storage) Load(r io.Reader) (err error) {
	defer func() { err = errors.Annotate(err, "loading filter storage: %w") }()

	p := newINIParser(s.registry)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineLength)
	for sc.Scan() {
		p.process(strings.TrimSuffix(sc.Text(), "\r"))
	}

	err = sc.Err()
	if err != nil {
		return err
	}

	p.finishSection()

	s.replace(p.subs, p.userFilters)
	s.dispatch(Event{Action: ActionLoad})

	return nil
}

// replace sets the subscriptions and adds the user filters of old storage
// files.
func (s *Storage) replace(subs []*subscription.Subscription, userFilters []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = nil
	clear(s.byURL)
	clear(s.subsByFilter)

	for _, sub := range subs {
		s.addSubscription(sub)
	}

	for _, text := range userFilters {
		if f := s.registry.FromText(text); f != nil {
			s.addFilter(f, nil, -1)
		}
	}
}

// Save writes the storage to w.
func (s *Storage) Save(w io.Writer) (err error) {
	err = s.write(w)
	if err != nil {
		return errors.Annotate(err, "saving filter storage: %w")
	}

	s.dispatch(Event{Action: ActionSave})

	return nil
}

// write writes the serialized storage to w.
func (s *Storage) write(w io.Writer) (err error) {
	bw := bufio.NewWriter(w)
	for _, line := range s.serialize() {
		_, _ = bw.WriteString(line)
		_ = bw.WriteByte('\n')
	}

	// bufio.Writer keeps the first write error and returns it here.
	return bw.Flush()
}

// serialize returns the lines of the storage file.  The states of the filters
// go first, followed by the subscriptions and their filter lists.
func (s *Storage) serialize() (lines []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines = []string{fileHeader, "version=" + strconv.Itoa(formatVersion)}

	saved := map[*filters.Filter]struct{}{}
	for _, sub := range s.subscriptions {
		if sub.Kind() == subscription.KindExternal {
			continue
		}

		for _, f := range sub.Filters() {
			if _, ok := saved[f]; ok {
				continue
			}

			saved[f] = struct{}{}
			if fl := f.Serialize(); fl != nil {
				lines = append(lines, "")
				lines = append(lines, fl...)
			}
		}
	}

	for _, sub := range s.subscriptions {
		if sub.Kind() == subscription.KindExternal {
			continue
		}

		lines = append(lines, "")
		lines = append(lines, sub.Serialize()...)
		if fl := sub.SerializeFilters(); fl != nil {
			lines = append(lines, "")
			lines = append(lines, fl...)
		}
	}

	return lines
}

// backupPath returns the path of the n-th backup of the storage file.
func (s *Storage) backupPath(n int) (p string) {
	return fmt.Sprintf("%s.backup%d", s.path, n)
}

// LoadFromDisk loads the storage from the configured file.  If it cannot be
// read, the backups are tried, newest first.  If none of them exist, the
// storage is emptied.
func (s *Storage) LoadFromDisk(ctx context.Context) (err error) {
	if s.path == "" {
		return errNoPath
	}

	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	var errs []error
	for i := 0; i <= s.backups; i++ {
		p := s.path
		if i > 0 {
			p = s.backupPath(i)
		}

		err = s.loadFile(p)
		if err == nil {
			s.logger.DebugContext(ctx, "loaded filter storage", "path", p)

			return nil
		} else if errors.Is(err, os.ErrNotExist) {
			continue
		}

		s.logger.WarnContext(ctx, "reading filter storage", "path", p, slogutil.KeyError, err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Annotate(errors.Join(errs...), "loading %q: %w", s.path)
	}

	s.logger.InfoContext(ctx, "no filter storage file, starting empty", "path", s.path)
	s.replace(nil, nil)
	s.dispatch(Event{Action: ActionLoad})

	return nil
}

// loadFile loads the storage from the file at p.
func (s *Storage) loadFile(p string) (err error) {
	f, err := os.Open(p)
	if err != nil {
		// Don't wrap the error to keep os.ErrNotExist visible.
		return err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return s.Load(f)
}

// SaveToDisk atomically writes the storage to the configured file, keeping
// the previous versions as backups.
func (s *Storage) SaveToDisk(ctx context.Context) (err error) {
	if s.path == "" {
		return errNoPath
	}

	defer func() { err = errors.Annotate(err, "saving to %q: %w", s.path) }()

	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	dir := filepath.Dir(s.path)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpPath, err := s.writeTemp(dir)
	if err != nil {
		return err
	}

	if s.backups > 0 {
		s.rotateBackups(ctx)
	}

	err = os.Rename(tmpPath, s.path)
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("replacing file: %w", err)
	}

	s.logger.DebugContext(ctx, "saved filter storage", "path", s.path)
	s.dispatch(Event{Action: ActionSave})

	return nil
}

// writeTemp writes the storage into a new temporary file in dir and returns
// its path.
func (s *Storage) writeTemp(dir string) (tmpPath string, err error) {
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file: %w", err)
	}

	tmpPath = tmp.Name()
	defer func() {
		err = errors.WithDeferred(err, tmp.Close())
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	err = s.write(tmp)
	if err != nil {
		return "", fmt.Errorf("writing: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		return "", fmt.Errorf("syncing: %w", err)
	}

	return tmpPath, nil
}

// rotateBackups moves the current file to the first backup and shifts the
// older backups, unless the first backup is younger than the backup interval.
// Failures are only logged.
func (s *Storage) rotateBackups(ctx context.Context) {
	first := s.backupPath(1)
	if fi, err := os.Stat(first); err == nil && s.clock.Now().Sub(fi.ModTime()) < s.backupInterval {
		return
	}

	if _, err := os.Stat(s.path); err != nil {
		return
	}

	for n := s.backups; n > 1; n-- {
		err := os.Rename(s.backupPath(n-1), s.backupPath(n))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WarnContext(ctx, "rotating backup", "n", n, slogutil.KeyError, err)
		}
	}

	err := os.Rename(s.path, first)
	if err != nil {
		s.logger.WarnContext(ctx, "creating backup", slogutil.KeyError, err)
	}
}
