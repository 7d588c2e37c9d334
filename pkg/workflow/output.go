package workflow

import (
	"maps"
	"reflect"
)

// SelectedSuffix is appended to a gallery key to name the entry holding the
// currently selected item of that gallery.
const SelectedSuffix = "_selected"

// MergeOutput folds a new result into a node's existing output.
//
// List values are galleries: the new items come first, followed by the
// existing items that are not repeated, so earlier generations stay visible.
// For every gallery the result touches, key+SelectedSuffix points at the
// newest item unless data sets it itself. All other values overwrite.
// Neither argument is modified; galleries in the result are []any.
func MergeOutput(existing, data Output) Output {
	out := make(Output, len(existing)+len(data))
	maps.Copy(out, existing)

	for k, v := range data {
		items, ok := asList(v)
		if !ok {
			out[k] = v
			continue
		}
		prev, _ := asList(existing[k])
		merged := make([]any, 0, len(items)+len(prev))
		for _, it := range items {
			merged = appendUnique(merged, it)
		}
		for _, it := range prev {
			merged = appendUnique(merged, it)
		}
		out[k] = merged

		sel := k + SelectedSuffix
		if _, explicit := data[sel]; !explicit && len(items) > 0 {
			out[sel] = items[0]
		}
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func appendUnique(list []any, item any) []any {
	for _, v := range list {
		if reflect.DeepEqual(v, item) {
			return list
		}
	}
	return append(list, item)
}
