package config

import "dario.cat/mergo"

// MergeInto merges src on top of dst, with non-zero fields in src
// overriding dst, mirroring the teacher's built-in+user config layering.
// Maps are merged key-by-key rather than replaced wholesale.
func MergeInto(dst, src *Config) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}
