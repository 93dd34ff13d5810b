package param

import "strconv"

func itoa(n int) string {
	return strconv.Itoa(n)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// joinForSubstitution stringifies a list value the way a single inliner
// result is substituted back into the raw param value (§4.1 step 5): lists
// never appear as inliner results in practice since the evaluator only
// returns scalars, but the Value.String method stays total.
func joinForSubstitution(v Value) string {
	switch v.kind {
	case kindStringList:
		s := ""
		for i, e := range v.stringList {
			if i > 0 {
				s += "\n"
			}
			s += e
		}
		return s
	case kindNumberList:
		s := ""
		for i, e := range v.numberList {
			if i > 0 {
				s += "\n"
			}
			s += ftoa(e)
		}
		return s
	}
	return ""
}
