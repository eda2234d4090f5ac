package hits

// Hit is one reference read and the number of query windows that matched it.
type Hit struct {
	Read  uint32
	Count uint64
}

// ranking is a min-heap of hits bounded to the best n. The heap operations
// are written out rather than going through container/heap to keep Hit out
// of interface values.
type ranking []Hit

// less orders by count, then by descending read id, so that among equal
// counts the lowest read id ranks highest.
func (r ranking) less(i, j int) bool { return worse(r[i], r[j]) }

func worse(a, b Hit) bool {
	if a.Count != b.Count {
		return a.Count < b.Count
	}
	return a.Read > b.Read
}

func (r ranking) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !r.less(j, i) {
			break
		}
		r[i], r[j] = r[j], r[i]
		j = i
	}
}

func (r ranking) down(i, n int) {
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && r.less(j2, j1) {
			j = j2
		}
		if !r.less(j, i) {
			break
		}
		r[i], r[j] = r[j], r[i]
		i = j
	}
}

// offer keeps h if it is among the best n seen so far.
func (r *ranking) offer(h Hit, n int) {
	if len(*r) < n {
		*r = append(*r, h)
		r.up(len(*r) - 1)
		return
	}
	if n == 0 || !worse((*r)[0], h) {
		return
	}
	(*r)[0] = h
	r.down(0, len(*r))
}

// Top returns the n best hits, highest count first. n <= 0 returns them all.
func Top(hits []Hit, n int) []Hit {
	if n <= 0 || n > len(hits) {
		n = len(hits)
	}
	r := make(ranking, 0, n)
	for _, h := range hits {
		r.offer(h, n)
	}
	// Pop the minimum into the tail until the heap is empty.
	for end := len(r) - 1; end > 0; end-- {
		r[0], r[end] = r[end], r[0]
		r.down(0, end)
	}
	return r
}
