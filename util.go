package cbgen

// Choose k from n items can be done in this many ways. Originally derived from
// github.com/limix/bgen /src/util/choose.c
func Choose(n, k int) int {
	if n == 3 && k == 1 {
		// Fastest path, since this is the usual result
		return 3
	} else if k == 1 {
		return n
	}

	ans := 1

	if k > n-k {
		k = n - k
	}

	for j := 1; j <= k; j++ {
		if n%j == 0 {
			ans *= n / j
		} else if ans%j == 0 {
			ans = ans / j * n
		} else {
			ans = (ans * n) / j
		}

		n--
	}

	return ans
}

// chooseLimit computes Choose(n, k) but gives up, returning false, as soon as
// the result would exceed limit.
func chooseLimit(n, k, limit int) (int, bool) {
	if k < 0 || k > n {
		return 0, true
	}
	if k > n-k {
		k = n - k
	}

	// After step j, ans == Choose(n-k+j, j), so every division is exact.
	ans := 1
	for j := 1; j <= k; j++ {
		m := n - k + j
		if ans > limit/m {
			return 0, false
		}
		ans = ans * m / j
	}

	return ans, true
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
