// Package techlog contains the streaming parser that turns raw technical
// event log text into structured events.
//
// The log layout follows the platform convention: one file per hour named
// YYMMDDHH.log, each record starting with "MM:SS.microseconds-duration,"
// where duration is in microseconds. Quoted property values may span
// multiple lines; continuation lines are folded into the open record.
package techlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoReadableInput is returned when not a single file of the input set
// could be opened.
var ErrNoReadableInput = errors.New("no readable tech-log input")

// recordStartPattern matches the head of an event record:
// minutes:seconds.microseconds-duration,EVENT,level{,props}
var recordStartPattern = regexp.MustCompile(`^(\d{2}):(\d{2})\.(\d{6})-(\d+),([A-Za-z]+),(\d+)(?:,|$)`)

const maxLineBytes = 1024 * 1024

// Parser reads tech-log files into Event batches. The zero value parses
// without a time filter.
type Parser struct {
	// Start and End bound the events kept by embedded timestamp.
	// Zero values disable the respective bound.
	Start time.Time
	End   time.Time
}

// Parse reads the given files (or directories of *.log files) and
// materializes a Batch. Files are concatenated in lexical filename order
// and each file's events are ordered by embedded timestamp. Malformed
// lines are skipped and counted, never fatal; only a fully unreadable
// input set yields ErrNoReadableInput.
func (p *Parser) Parse(ctx context.Context, paths ...string) (*Batch, error) {
	batch := &Batch{}
	err := p.Walk(ctx, func(ev Event) error {
		batch.Events = append(batch.Events, ev)
		return nil
	}, func(malformed, files int) {
		batch.Malformed = malformed
		batch.Files = files
	}, paths...)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Walk streams events to fn in file-then-timestamp order without keeping
// the whole batch in memory. The sequence is restartable: every call
// re-opens the inputs from the beginning. The optional done callback
// receives the malformed-line and file counters once the walk finishes.
func (p *Parser) Walk(ctx context.Context, fn func(Event) error, done func(malformed, files int), paths ...string) error {
	files, err := expandInputs(paths)
	if err != nil {
		return err
	}

	malformed := 0
	opened := 0
	var lastErr error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.walkFile(ctx, file, fn)
		malformed += n
		if err != nil {
			if errors.Is(err, errUnreadable) {
				lastErr = err
				continue
			}
			return err
		}
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("%w: %v", ErrNoReadableInput, lastErr)
	}
	if done != nil {
		done(malformed, opened)
	}
	return nil
}

var errUnreadable = errors.New("unreadable file")

// expandInputs resolves directories to their *.log members and orders
// everything by base filename, which for hourly tech logs is also
// chronological order.
func expandInputs(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			// Deferred to walkFile so a single bad path is not fatal.
			files = append(files, path)
			continue
		}
		if info.IsDir() {
			matches, _ := filepath.Glob(filepath.Join(path, "*.log"))
			files = append(files, matches...)
			continue
		}
		files = append(files, path)
	}
	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

func (p *Parser) walkFile(ctx context.Context, path string, fn func(Event) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errUnreadable, err)
	}
	defer f.Close()

	base, baseOK := baseHourFromName(filepath.Base(path))

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		events    []Event
		malformed int
		raw       strings.Builder
		rawLine   int
		line      int
		pending   bool
	)

	flush := func() {
		if !pending {
			return
		}
		pending = false
		ev, ok := parseRecord(raw.String(), base, baseOK)
		raw.Reset()
		if !ok {
			malformed++
			return
		}
		ev.File = filepath.Base(path)
		ev.SourceLine = rawLine
		if p.keep(ev) {
			events = append(events, ev)
		}
	}

	for scanner.Scan() {
		line++
		text := scanner.Text()
		switch {
		case recordStartPattern.MatchString(text):
			flush()
			pending = true
			rawLine = line
			raw.WriteString(text)
		case pending && hasOpenQuote(raw.String()):
			// Continuation of a quoted multi-line value.
			raw.WriteByte('\n')
			raw.WriteString(text)
		case strings.TrimSpace(text) == "":
			// Blank separators are tolerated.
		default:
			malformed++
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return malformed, fmt.Errorf("%w: %v", errUnreadable, err)
	}

	// Timestamp order within the file; parse order breaks ties so the
	// result is stable when timestamps are absent.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	for i := range events {
		if err := ctx.Err(); err != nil {
			return malformed, err
		}
		if err := fn(events[i]); err != nil {
			return malformed, err
		}
	}
	return malformed, nil
}

func (p *Parser) keep(ev Event) bool {
	if !p.Start.IsZero() && ev.Timestamp.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && ev.Timestamp.After(p.End) {
		return false
	}
	return true
}

// baseHourFromName extracts the wall-clock hour from an hourly log file
// name in YYMMDDHH.log form.
func baseHourFromName(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if len(stem) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("06010215", stem)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseRecord parses one full record (head line plus folded continuations).
func parseRecord(raw string, base time.Time, baseOK bool) (Event, bool) {
	m := recordStartPattern.FindStringSubmatch(raw)
	if m == nil {
		return Event{}, false
	}
	minutes, _ := strconv.Atoi(m[1])
	seconds, _ := strconv.Atoi(m[2])
	micros, _ := strconv.Atoi(m[3])
	durationUS, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return Event{}, false
	}

	name := m[5]
	eventType, ok := eventTypeByName[name]
	if !ok {
		eventType = EventOther
	}

	ev := Event{
		Type:       eventType,
		Name:       name,
		DurationMS: durationUS / 1000,
	}
	if baseOK {
		ev.Timestamp = base.
			Add(time.Duration(minutes) * time.Minute).
			Add(time.Duration(seconds) * time.Second).
			Add(time.Duration(micros) * time.Microsecond)
	}

	rest := raw[len(m[0]):]
	if strings.HasSuffix(m[0], ",") {
		ev.Fields = parseFields(rest)
	}
	return ev, true
}

// parseFields splits the comma-separated key=value tail of a record.
// Values quoted with ' or " may contain commas, newlines and doubled
// quote characters.
func parseFields(s string) []Field {
	var fields []Field
	i := 0
	for i < len(s) {
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1

		var value string
		if i < len(s) && (s[i] == '\'' || s[i] == '"') {
			quote := s[i]
			i++
			var b strings.Builder
			for i < len(s) {
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						b.WriteByte(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteByte(s[i])
				i++
			}
			value = b.String()
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			value = s[i : i+end]
			i += end
		}
		if key != "" {
			fields = append(fields, Field{Key: key, Value: value})
		}
		// Skip the separating comma, if any.
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
	return fields
}

// hasOpenQuote reports whether raw ends inside an unclosed quoted value,
// which is the only legal reason for a record to continue on the next line.
func hasOpenQuote(raw string) bool {
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if quote == 0 {
			if c == '\'' || c == '"' {
				quote = c
			}
			continue
		}
		if c == quote {
			if i+1 < len(raw) && raw[i+1] == quote {
				i++
				continue
			}
			quote = 0
		}
	}
	return quote != 0
}
