package runner

import "strings"

// Fake is a Runner test double. It records every invocation and serves
// canned results keyed by the space-joined argument vector. Outputs is a
// queue per key: successive calls consume successive entries, and the last
// entry repeats once the queue is down to one.
type Fake struct {
	Calls   [][]string
	Outputs map[string][]string
	Fail    map[string]int
	Errs    map[string]error
	Missing []string
}

func (f *Fake) record(argv []string) string {
	f.Calls = append(f.Calls, argv)
	return strings.Join(argv, " ")
}

func (f *Fake) next(key string) (string, bool) {
	q, ok := f.Outputs[key]
	if !ok || len(q) == 0 {
		return "", false
	}
	out := q[0]
	if len(q) > 1 {
		f.Outputs[key] = q[1:]
	}
	return out, true
}

func (f *Fake) Stream(sink Sink, argv ...string) error {
	key := f.record(argv)
	sink("$ " + key)
	if out, ok := f.next(key); ok && out != "" {
		for _, line := range strings.Split(out, "\n") {
			sink(line)
		}
	}
	if code, ok := f.Fail[key]; ok && code != 0 {
		return &ExitError{Argv: argv, Code: code}
	}
	return nil
}

func (f *Fake) TryStream(sink Sink, argv ...string) int {
	key := f.record(argv)
	sink("$ " + key)
	if out, ok := f.next(key); ok && out != "" {
		for _, line := range strings.Split(out, "\n") {
			sink(line)
		}
	}
	return f.Fail[key]
}

func (f *Fake) Output(argv ...string) (string, error) {
	key := f.record(argv)
	if err, ok := f.Errs[key]; ok {
		return "", err
	}
	if code, ok := f.Fail[key]; ok && code != 0 {
		return "", &ExitError{Argv: argv, Code: code}
	}
	out, _ := f.next(key)
	return out, nil
}

func (f *Fake) Available(name string) bool {
	for _, m := range f.Missing {
		if m == name {
			return false
		}
	}
	return true
}

// Ran reports whether any recorded invocation starts with the given words.
func (f *Fake) Ran(prefix ...string) bool {
	for _, call := range f.Calls {
		if len(call) < len(prefix) {
			continue
		}
		match := true
		for i, word := range prefix {
			if call[i] != word {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
