package ziptype

// Method identifies the compression method of an entry.
//
// Only MethodStored and MethodDeflated can be extracted; every other code is
// carried through so that it can be reported.
type Method uint16

// Compression method codes from the ZIP application note registry.
const (
	MethodStored    Method = 0
	MethodShrunk    Method = 1
	MethodImploded  Method = 6
	MethodDeflated  Method = 8
	MethodDeflate64 Method = 9
	MethodBzip2     Method = 12
	MethodLZMA      Method = 14
	MethodZstd      Method = 93
	MethodXZ        Method = 95
	MethodPPMd      Method = 98
	MethodAES       Method = 99
)

// Supported reports whether entries using m can be extracted.
func (m Method) Supported() bool {
	return m == MethodStored || m == MethodDeflated
}

func (m Method) String() string {
	switch m {
	case MethodStored:
		return "stored"
	case MethodShrunk:
		return "shrunk"
	case MethodImploded:
		return "imploded"
	case MethodDeflated:
		return "deflated"
	case MethodDeflate64:
		return "deflate64"
	case MethodBzip2:
		return "bzip2"
	case MethodLZMA:
		return "lzma"
	case MethodZstd:
		return "zstd"
	case MethodXZ:
		return "xz"
	case MethodPPMd:
		return "ppmd"
	case MethodAES:
		return "aes"
	default:
		return "unknown"
	}
}
