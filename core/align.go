package core

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64

	// WordSize is the size in bytes of one packed element word.
	WordSize = 8

	// WordsPerLine is the number of packed words filling one cache line.
	WordsPerLine = CacheLineSize / WordSize
)

// AlignWords rounds n up to the nearest multiple of align words.
// align must be a power of two.
func AlignWords(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// AlignLine rounds n words up to a whole number of cache lines.
func AlignLine(n int) int { return AlignWords(n, WordsPerLine) }

// IsLineAligned reports whether a word offset starts a cache line.
func IsLineAligned(off int) bool {
	return off%WordsPerLine == 0
}
