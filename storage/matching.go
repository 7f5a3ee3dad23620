package storage

// MatchPattern reports whether str matches a Redis glob pattern.
//
// Supported syntax:
//   - * matches any sequence, including the empty one
//   - ? matches a single byte
//   - [abc], [a-z] and [^a-z] match byte classes
//   - \x matches x literally
//
// Unlike filepath.Match, '/' has no special meaning.
func MatchPattern(str, pattern string) bool {
	return matchGlob(str, pattern)
}

func matchGlob(str, pattern string) bool {
	s, p := 0, 0
	starP, starS := -1, 0

	for s < len(str) {
		if p < len(pattern) {
			if pattern[p] == '*' {
				starP, starS = p, s
				p++
				continue
			}
			if ok, next := matchOne(str[s], pattern, p); ok {
				s++
				p = next
				continue
			}
		}
		// Backtrack: let the last star absorb one more byte
		if starP < 0 {
			return false
		}
		starS++
		s, p = starS, starP+1
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchOne matches a single byte against the token at pattern[p] and
// returns the index of the next token
func matchOne(c byte, pattern string, p int) (bool, int) {
	switch pattern[p] {
	case '?':
		return true, p + 1
	case '[':
		matched, rest := matchClass(c, pattern[p+1:])
		return matched, len(pattern) - len(rest)
	case '\\':
		if p+1 < len(pattern) {
			return pattern[p+1] == c, p + 2
		}
		return c == '\\', p + 1
	default:
		return pattern[p] == c, p + 1
	}
}

// matchClass matches c against the class body that follows '[' and returns
// the pattern remaining after the closing ']'. An unterminated class runs
// to the end of the pattern.
func matchClass(c byte, pattern string) (bool, string) {
	negate := false
	if len(pattern) > 0 && pattern[0] == '^' {
		negate = true
		pattern = pattern[1:]
	}

	matched := false
	for len(pattern) > 0 && pattern[0] != ']' {
		switch {
		case pattern[0] == '\\' && len(pattern) >= 2:
			if pattern[1] == c {
				matched = true
			}
			pattern = pattern[2:]

		case len(pattern) >= 3 && pattern[1] == '-' && pattern[2] != ']':
			lo, hi := pattern[0], pattern[2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			pattern = pattern[3:]

		default:
			if pattern[0] == c {
				matched = true
			}
			pattern = pattern[1:]
		}
	}
	if len(pattern) > 0 {
		pattern = pattern[1:]
	}

	if negate {
		matched = !matched
	}
	return matched, pattern
}
