package pipeline

import "runtime"

// defaultParserThreads mirrors the original monolith's
// std::thread::hardware_concurrency() fallback: use the number of
// logical CPUs, or 4 when that can't be determined.
func defaultParserThreads() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 4
}
