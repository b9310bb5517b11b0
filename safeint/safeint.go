// Package safeint provides overflow-checked signed 64-bit arithmetic for
// monetary amounts, vote counts and timestamp sums. Any result whose magnitude
// would exceed MaxAmount is rejected instead of wrapping.
package safeint

import "fmt"

// MaxAmount is the largest magnitude a checked amount may hold: 2^62 - 1.
const MaxAmount = int64(1)<<62 - 1

// Check validates that v is within [-MaxAmount, MaxAmount].
func Check(v int64) error {
	if v > MaxAmount || v < -MaxAmount {
		return fmt.Errorf("magnitude of amount %d exceeds 2^62-1", v)
	}
	return nil
}

// Add returns a + b, rejecting operands or results outside the safe range.
func Add(a, b int64) (int64, error) {
	if err := Check(a); err != nil {
		return 0, err
	}
	if err := Check(b); err != nil {
		return 0, err
	}
	r := a + b
	if r > MaxAmount {
		return 0, fmt.Errorf("addition overflow: %d + %d", a, b)
	}
	if r < -MaxAmount {
		return 0, fmt.Errorf("addition underflow: %d + %d", a, b)
	}
	return r, nil
}

// Sub returns a - b, rejecting operands or results outside the safe range.
func Sub(a, b int64) (int64, error) {
	if err := Check(a); err != nil {
		return 0, err
	}
	if err := Check(b); err != nil {
		return 0, err
	}
	r := a - b
	if r > MaxAmount {
		return 0, fmt.Errorf("subtraction overflow: %d - %d", a, b)
	}
	if r < -MaxAmount {
		return 0, fmt.Errorf("subtraction underflow: %d - %d", a, b)
	}
	return r, nil
}

// Mul returns a * b, rejecting operands or results outside the safe range.
func Mul(a, b int64) (int64, error) {
	if err := Check(a); err != nil {
		return 0, err
	}
	if err := Check(b); err != nil {
		return 0, err
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if r/a != b {
		return 0, fmt.Errorf("multiplication overflow: %d * %d", a, b)
	}
	if r > MaxAmount || r < -MaxAmount {
		return 0, fmt.Errorf("multiplication overflow: %d * %d", a, b)
	}
	return r, nil
}

// Div returns a / b using truncated integer division. Division by zero is an
// error rather than a panic.
func Div(a, b int64) (int64, error) {
	if err := Check(a); err != nil {
		return 0, err
	}
	if err := Check(b); err != nil {
		return 0, err
	}
	if b == 0 {
		return 0, fmt.Errorf("division by zero: %d / 0", a)
	}
	return a / b, nil
}
