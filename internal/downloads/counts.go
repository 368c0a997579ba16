package downloads

// Counts 是应用标识到历史总下载量的映射；nil 值表示“因抓取失败而未知”，
// 与 0 含义不同。
type Counts map[string]*int64

// Clone 返回深拷贝，指针值同样复制，避免调用方篡改内部状态。
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for key, value := range c {
		if value == nil {
			out[key] = nil
			continue
		}
		v := *value
		out[key] = &v
	}
	return out
}

// MergeMax 把 src 并入 dst，同键取两者较大值；nil 与数字合并得到数字，
// nil 与 nil 仍为 nil。该合并是交换且幂等的（格上的 join），
// 多实例收敛只依赖它，不依赖消息到达顺序。
func MergeMax(dst, src Counts) Counts {
	if dst == nil {
		dst = make(Counts, len(src))
	}
	for key, incoming := range src {
		current, exists := dst[key]
		switch {
		case incoming == nil:
			if !exists {
				dst[key] = nil
			}
		case current == nil:
			v := *incoming
			dst[key] = &v
		case *incoming > *current:
			v := *incoming
			dst[key] = &v
		}
	}
	return dst
}

// CountValue 便于构造指针值。
func CountValue(v int64) *int64 {
	return &v
}
