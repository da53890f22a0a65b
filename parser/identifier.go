package parser

import "regexp"

var needsQuoting = regexp.MustCompile(`\W`)

// Quote returns val wrapped in double quotes with inner quotes doubled, if it
// matches \W (contains anything other than a word character) or force is
// set. It mirrors sqlitely's grammar.quote().
func Quote(val string, force bool) string {
	if !force && !needsQuoting.MatchString(val) {
		return val
	}
	return `"` + replaceAll(val, `"`, `""`) + `"`
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	var out []byte
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out = append(out, new...)
			i += len(old)
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

var quotedForm = regexp.MustCompile(`^(?:".*"|'.*'|\[.*\])$`)

// Unquote strips a surrounding '', "" or [] wrapping from val, unescaping
// doubled quote characters for '' and "" (but not for [], which SQLite
// never doubles).
func Unquote(val string) string {
	if !quotedForm.MatchString(val) {
		return val
	}
	sep := val[0]
	inner := val[1 : len(val)-1]
	if sep == '[' {
		return inner
	}
	sepStr := string(sep)
	return replaceAll(inner, sepStr+sepStr, sepStr)
}
