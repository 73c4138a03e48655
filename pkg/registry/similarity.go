package registry

// Similarity scores how alike two strings are in [0, 1] using the
// Ratcliff-Obershelp measure: twice the total length of matching blocks
// over the combined length. Used to pick the closest label bucket when the
// requested label has no exact match.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(totalMatches(ra, rb)) / float64(total)
}

// totalMatches sums the longest common block and, recursively, the blocks
// on either side of it.
func totalMatches(a, b []rune) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		totalMatches(a[:ai], b[:bi]) +
		totalMatches(a[ai+size:], b[bi+size:])
}

func longestMatch(a, b []rune) (besti, bestj, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// lengths[j] holds the run length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					besti = i - size
					bestj = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, size
}
