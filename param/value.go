package param

// Value is the typed runtime value of a resolved Param (§9 "dynamic param
// values"): a closed sum type over the five wire types in §3/§6.
type Value struct {
	kind        kind
	str         string
	num         float64
	numIsInt    bool
	boolean     bool
	stringList  []string
	numberList  []float64
}

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
	kindStringList
	kindNumberList
)

func String(s string) Value { return Value{kind: kindString, str: s} }
func Bool(b bool) Value     { return Value{kind: kindBool, boolean: b} }
func Int(n int) Value       { return Value{kind: kindNumber, num: float64(n), numIsInt: true} }
func Float(f float64) Value { return Value{kind: kindNumber, num: f} }
func StringList(ss []string) Value {
	return Value{kind: kindStringList, stringList: ss}
}
func NumberList(ns []float64) Value {
	return Value{kind: kindNumberList, numberList: ns}
}

func (v Value) IsBool() bool       { return v.kind == kindBool }
func (v Value) IsNumber() bool     { return v.kind == kindNumber }
func (v Value) IsStringList() bool { return v.kind == kindStringList }
func (v Value) IsNumberList() bool { return v.kind == kindNumberList }

func (v Value) Bool() bool { return v.boolean }

// Number returns the numeric value as either an int or a float64 depending
// on whether the parse preserved an integer (§4.1 step 6).
func (v Value) Number() interface{} {
	if v.numIsInt {
		return int(v.num)
	}
	return v.num
}

func (v Value) Float() float64        { return v.num }
func (v Value) StringSlice() []string { return v.stringList }
func (v Value) NumberSlice() []float64 {
	return v.numberList
}

// Raw returns a value suitable for use as a worker_params entry: the
// underlying Go primitive, preserving the int/float distinction computed at
// parse time (§4.1 step 6).
func (v Value) Raw() interface{} {
	switch v.kind {
	case kindBool:
		return v.boolean
	case kindNumber:
		return v.Number()
	case kindStringList:
		return v.stringList
	case kindNumberList:
		return v.numberList
	default:
		return v.str
	}
}

// EvalBinding returns a value suitable for use as a govaluate name binding,
// which requires float64 for every numeric operand regardless of whether
// the parse preserved an int (unlike Raw, which keeps that distinction for
// worker_params).
func (v Value) EvalBinding() interface{} {
	if v.kind == kindNumber {
		return v.num
	}
	return v.Raw()
}

func (v Value) String() string {
	switch v.kind {
	case kindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case kindNumber:
		return numberToString(v)
	case kindStringList, kindNumberList:
		return joinForSubstitution(v)
	default:
		return v.str
	}
}

func numberToString(v Value) string {
	if v.numIsInt {
		return itoa(int(v.num))
	}
	return ftoa(v.num)
}
