package runtime

// Kind classifies a Value by its engine-side type.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindObject
	KindArray
	KindFunction
	KindException
)

var kindNames = map[Kind]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindString:    "string",
	KindSymbol:    "symbol",
	KindObject:    "object",
	KindArray:     "array",
	KindFunction:  "function",
	KindException: "exception",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}
