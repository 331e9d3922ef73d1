package substitution

import "sort"

// Annotate 依使用者現有食材標記每個候選是否可取得，並重新排序：
// 可取得者在前，各組內依 ConfidenceScore 由高到低，同分維持原順序。
// inventory 為空時原樣回傳。回傳值為新的結果，不修改輸入。
func Annotate(result *Result, inventory []string) *Result {
	if result == nil || len(inventory) == 0 {
		return result
	}

	normalized := NormalizeAll(inventory)
	if len(normalized) == 0 {
		return result
	}

	out := result.Clone()
	for i := range out.Substitutions {
		available := isAvailable(Normalize(out.Substitutions[i].SubstituteIngredient), normalized)
		out.Substitutions[i].IsUserAvailable = &available
	}

	sort.SliceStable(out.Substitutions, func(i, j int) bool {
		a, b := out.Substitutions[i], out.Substitutions[j]
		aAvail, bAvail := a.IsUserAvailable != nil && *a.IsUserAvailable, b.IsUserAvailable != nil && *b.IsUserAvailable
		if aAvail != bAvail {
			return aAvail
		}
		return a.ConfidenceScore > b.ConfidenceScore
	})
	return out
}

func isAvailable(substitute string, inventory []string) bool {
	for _, item := range inventory {
		if containsEither(substitute, item) {
			return true
		}
	}
	return false
}
