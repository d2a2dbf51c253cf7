package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alexhholmes/blockriver"
)

// session executes commands against one store
type session struct {
	store *blockriver.Store[int64, int64]
	out   io.Writer
	log   blockriver.Logger
}

func newSession(store *blockriver.Store[int64, int64], out io.Writer, log blockriver.Logger) *session {
	return &session{store: store, out: out, log: log}
}

// errQuit ends a session without error
var errQuit = errors.New("quit")

// run reads commands from in until EOF, quit, or the announced command count
// is reached.
func (s *session) run(in io.Reader) error {
	sc := bufio.NewScanner(in)

	first, limit := true, -1
	for limit != 0 && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		if first {
			first = false
			if len(fields) == 1 {
				if n, err := strconv.Atoi(fields[0]); err == nil {
					limit = n
					continue
				}
			}
		}
		if limit > 0 {
			limit--
		}

		err := s.exec(fields[0], fields[1:])
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, errUsage):
			s.log.Warn("skipping command", "line", sc.Text(), "error", err)
		case err != nil:
			return fmt.Errorf("%s: %w", sc.Text(), err)
		}
	}
	return sc.Err()
}

var errUsage = errors.New("bad command")

func (s *session) exec(cmd string, args []string) error {
	switch cmd {
	case "insert", "delete":
		k, v, err := pairArgs(args)
		if err != nil {
			return err
		}
		var st blockriver.Status
		if cmd == "insert" {
			st, err = s.store.Insert(k, v)
		} else {
			st, err = s.store.Remove(k, v)
		}
		if err != nil || st == blockriver.StatusOK {
			return err
		}
		_, err = fmt.Fprintln(s.out, st)
		return err

	case "find":
		return s.find(args)

	case "print":
		return s.store.Dump(s.out)

	case "clear":
		return s.store.Clear()

	case "check":
		if err := s.store.Verify(); err != nil {
			if errors.Is(err, blockriver.ErrCorruption) {
				_, err = fmt.Fprintln(s.out, err)
			}
			return err
		}
		_, err := fmt.Fprintln(s.out, "ok")
		return err

	case "stats":
		return s.stats()

	case "quit":
		return errQuit

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (s *session) find(args []string) error {
	switch len(args) {
	case 1:
		k, err := parseInt(args[0])
		if err != nil {
			return err
		}
		values, err := s.store.Find(k)
		if errors.Is(err, blockriver.ErrKeyNotFound) {
			_, err = fmt.Fprintln(s.out, "null")
			return err
		}
		if err != nil {
			return err
		}

		strs := make([]string, len(values))
		for i, v := range values {
			strs[i] = strconv.FormatInt(v, 10)
		}
		_, err = fmt.Fprintln(s.out, strings.Join(strs, " "))
		return err

	case 2:
		k, v, err := pairArgs(args)
		if err != nil {
			return err
		}
		ok, err := s.store.Contains(k, v)
		if err != nil {
			return err
		}
		if !ok {
			_, err = fmt.Fprintln(s.out, "null")
			return err
		}
		_, err = fmt.Fprintln(s.out, blockriver.Entry[int64, int64]{Key: k, Value: v})
		return err

	default:
		return fmt.Errorf("%w: find takes a key and an optional value", errUsage)
	}
}

func (s *session) stats() error {
	st := s.store.Stats()
	for _, f := range []struct {
		name  string
		stats blockriver.Stats
	}{
		{"index", st.Index},
		{"blocks", st.Blocks},
	} {
		_, err := fmt.Fprintf(s.out, "%s: records=%d free=%d hits=%d misses=%d evictions=%d writebacks=%d reads=%d writes=%d\n",
			f.name, f.stats.Records, f.stats.FreePages, f.stats.CacheHits, f.stats.CacheMisses,
			f.stats.Evictions, f.stats.WriteBacks, f.stats.Reads, f.stats.Writes)
		if err != nil {
			return err
		}
	}
	return nil
}

func pairArgs(args []string) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%w: expected a key and a value", errUsage)
	}
	k, err := parseInt(args[0])
	if err != nil {
		return 0, 0, err
	}
	v, err := parseInt(args[1])
	if err != nil {
		return 0, 0, err
	}
	return k, v, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", errUsage, s)
	}
	return n, nil
}
