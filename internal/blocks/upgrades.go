package blocks

// Documents written before version 2 stored colors as "fontColor" and
// "background", either as hex strings or as RGBA maps. Version 2 stores
// "color" and "backgroundColor", always as RGBA maps.

func renameColor(from, to string) Upgrade {
	return func(p Props) Props {
		if old, ok := p[from]; ok {
			if _, exists := p[to]; !exists {
				if c, ok := ParseColor(old); ok {
					p[to] = c.Prop()
				}
			}
			delete(p, from)
		}
		if current, ok := p[to].(string); ok {
			if c, ok := ParseColor(current); ok {
				p[to] = c.Prop()
			}
		}
		return p
	}
}

func renameKey(from, to string) Upgrade {
	return func(p Props) Props {
		if old, ok := p[from]; ok {
			if _, exists := p[to]; !exists {
				p[to] = old
			}
			delete(p, from)
		}
		return p
	}
}

func chain(steps ...Upgrade) Upgrade {
	return func(p Props) Props {
		for _, step := range steps {
			p = step(p)
		}
		return p
	}
}
