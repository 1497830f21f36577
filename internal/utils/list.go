package utils

// IsStringInSlice reports whether s is present in slice.
func IsStringInSlice(s string, slice []string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// IsSubset reports whether every element of sub is present in super.
func IsSubset(sub, super []string) bool {
	for _, s := range sub {
		if !IsStringInSlice(s, super) {
			return false
		}
	}
	return true
}
