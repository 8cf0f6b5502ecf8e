package registry

import (
	"strconv"
	"strings"
)

// compareSemver compares two dotted version strings numerically component
// by component (missing trailing components treated as 0), returning <0,
// 0, or >0. Non-numeric components compare as 0, tolerating loosely
// formatted versions rather than rejecting them.
func compareSemver(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := component(as, i)
		bv := component(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return n
}
