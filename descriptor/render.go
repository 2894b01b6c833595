package descriptor

import "strings"

// String renders a compact human-readable signature for the report and
// the interactive inspector.
func (desc *Descriptor) String() string {
	var b strings.Builder
	desc.render(&b)
	return b.String()
}

func (desc *Descriptor) render(b *strings.Builder) {
	switch desc.Tag {
	case TagRef:
		b.WriteByte('&')
		desc.Inner.render(b)
	case TagRefMut:
		b.WriteString("&mut ")
		desc.Inner.render(b)
	case TagLongRef:
		b.WriteString("&'static ")
		desc.Inner.render(b)
	case TagSlice:
		b.WriteByte('[')
		desc.Inner.render(b)
		b.WriteByte(']')
	case TagVector:
		b.WriteString("vector<")
		desc.Inner.render(b)
		b.WriteByte('>')
	case TagOptional:
		b.WriteString("option<")
		desc.Inner.render(b)
		b.WriteByte('>')
	case TagResult:
		b.WriteString("result<")
		desc.Inner.render(b)
		b.WriteByte('>')
	case TagClamped:
		b.WriteString("clamped<")
		desc.Inner.render(b)
		b.WriteByte('>')
	case TagNonNull:
		b.WriteString("nonnull<")
		desc.Inner.render(b)
		b.WriteByte('>')

	case TagNamedExternref:
		b.WriteString("externref(")
		b.WriteString(desc.Name)
		b.WriteByte(')')
	case TagRustStruct:
		b.WriteString("struct ")
		b.WriteString(desc.Name)
	case TagEnum:
		b.WriteString("enum ")
		b.WriteString(desc.Name)
	case TagStringEnum:
		b.WriteString("enum ")
		b.WriteString(desc.Name)
		b.WriteByte('{')
		b.WriteString(strings.Join(desc.Variants, "|"))
		b.WriteByte('}')

	case TagFunction:
		b.WriteString("fn")
		desc.Func.render(b)
	case TagClosure:
		b.WriteString("closure[")
		b.WriteString(desc.Mode.String())
		b.WriteByte(']')
		desc.Func.render(b)

	default:
		b.WriteString(desc.Tag.String())
	}
}

func (fn *Function) render(b *strings.Builder) {
	b.WriteByte('(')
	for i, a := range fn.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		a.render(b)
	}
	b.WriteByte(')')
	if fn.Ret != nil && fn.Ret.Tag != TagUnit {
		b.WriteString(" -> ")
		fn.Ret.render(b)
	}
}
