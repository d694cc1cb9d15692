package generator

// Document is the text of one row as the agent sees it. Empty fields are
// candidates for generation.
type Document struct {
	Title           string
	Content         string
	Excerpt         string
	MetaDescription string
}

// Fill selects which missing fields the agent may generate.
type Fill struct {
	Excerpt         bool
	MetaDescription bool
}

// Any reports whether at least one field is enabled.
func (f Fill) Any() bool {
	return f.Excerpt || f.MetaDescription
}

// missing narrows f to the enabled fields doc does not already carry.
func (f Fill) missing(doc Document) Fill {
	return Fill{
		Excerpt:         f.Excerpt && doc.Excerpt == "",
		MetaDescription: f.MetaDescription && doc.MetaDescription == "",
	}
}
