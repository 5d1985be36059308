package chat

// tokenize splits line, which starts with the prefix of m, into argv.
//
// argv[0] is the prefix as received. The remainder is split on any of the
// separators of m; consecutive separators yield empty arguments and a
// separator ending the line yields a trailing empty argument. Without
// separators a non-empty remainder is a single argument. Arguments beyond
// cap(argv) are dropped.
func tokenize(line []byte, m *Match, argv []string) []string {
	argv = argv[:0]
	if cap(argv) == 0 {
		return argv
	}
	argv = append(argv, string(line[:len(m.Match)]))

	rest := line[len(m.Match):]
	if len(rest) == 0 {
		return argv
	}
	if len(argv) == cap(argv) {
		return argv
	}
	if m.Separators == "" {
		return append(argv, string(rest))
	}

	start := 0
	for i := 0; i < len(rest); i++ {
		if !m.isSeparator(rest[i]) {
			continue
		}
		if len(argv) == cap(argv) {
			return argv
		}
		argv = append(argv, string(rest[start:i]))
		start = i + 1
	}
	if len(argv) == cap(argv) {
		return argv
	}
	return append(argv, string(rest[start:]))
}
