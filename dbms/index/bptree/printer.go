package bptree

import (
	"bufio"
	"fmt"
	"io"
)

// PrintDOT writes the tree as a Graphviz digraph: one HTML table per node,
// edges from internal nodes to their children, and dashed edges along the
// right sibling pointers of each level.
func (t *Index[K, V]) PrintDOT(w io.Writer) error {
	if t.closed.Load() {
		return ErrClosed
	}
	c := t.pager.ReadCursor()
	defer c.Close()

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph BPTree {")
	fmt.Fprintln(bw, `  graph [ranksep=0.8, nodesep=0.5, bgcolor="#ffffff", rankdir=TB];`)
	fmt.Fprintln(bw, `  node [shape=none, fontname="Helvetica", fontsize=10];`)
	fmt.Fprintln(bw, `  edge [arrowsize=0.8, color="#444444"];`)

	var levels [][]nodeSnapshot[K, V]
	seen := make(map[int64]bool)
	var export func(id int64, depth int) error
	export = func(id int64, depth int) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		s, err := t.readSnapshot(c, id)
		if err != nil {
			return err
		}
		if len(levels) <= depth {
			levels = append(levels, nil)
		}
		levels[depth] = append(levels[depth], s)

		if s.leaf {
			t.printLeaf(bw, s)
			return nil
		}
		t.printInternal(bw, s)
		for i, child := range s.children {
			if err := export(child, depth+1); err != nil {
				return err
			}
			fmt.Fprintf(bw, "  page%d:c%d -> page%d;\n", s.id, i, child)
		}
		return nil
	}
	if err := export(t.rootID.Load(), 0); err != nil {
		return err
	}

	for _, level := range levels {
		fmt.Fprintln(bw, "  { rank=same;")
		for _, s := range level {
			fmt.Fprintf(bw, "    page%d;\n", s.id)
		}
		fmt.Fprintln(bw, "  }")
		for _, s := range level {
			if s.right != NoNode && seen[s.right] {
				fmt.Fprintf(bw, "  page%d:next -> page%d [style=dashed, color=\"#03A9F4\", constraint=false];\n", s.id, s.right)
			}
		}
	}

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func (t *Index[K, V]) fill(s nodeSnapshot[K, V]) float64 {
	limit := t.node.InternalMaxKeyCount()
	if s.leaf {
		limit = t.node.LeafMaxKeyCount()
	}
	return float64(len(s.keys)) / float64(limit) * 100
}

func (t *Index[K, V]) printLeaf(w io.Writer, s nodeSnapshot[K, V]) {
	label := fmt.Sprintf(`<<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0" CELLPADDING="4">
		<TR><TD COLSPAN="2" BGCOLOR="#D5E8D4"><B>PAGE %d (LEAF)</B><BR/><FONT POINT-SIZE="8">Fill: %.1f%%</FONT></TD></TR>
		<TR><TD BGCOLOR="#F5F5F5" ALIGN="LEFT">`, s.id, t.fill(s))
	for i, k := range s.keys {
		label += fmt.Sprintf("<B>%v</B> <FONT COLOR='#666666'>[%s]</FONT><BR/>", k, preview(s.values[i]))
	}
	label += fmt.Sprintf(`</TD><TD PORT="next" BGCOLOR="#E1F5FE" VALIGN="MIDDLE">Next: %s</TD></TR></TABLE>>`, pageLabel(s.right))
	fmt.Fprintf(w, "  page%d [label=%s];\n", s.id, label)
}

func (t *Index[K, V]) printInternal(w io.Writer, s nodeSnapshot[K, V]) {
	label := fmt.Sprintf(`<<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0" CELLPADDING="4">
		<TR><TD COLSPAN="%d" BGCOLOR="#DAE8FC"><B>PAGE %d (INTERNAL)</B><BR/><FONT POINT-SIZE="8">Fill: %.1f%%</FONT></TD></TR><TR>`,
		len(s.keys)*2+2, s.id, t.fill(s))
	for i, child := range s.children {
		label += fmt.Sprintf(`<TD PORT="c%d" BGCOLOR="#E1F5FE">P:%d</TD>`, i, child)
		if i < len(s.keys) {
			label += fmt.Sprintf(`<TD BGCOLOR="#FFFFFF"><B>%v</B></TD>`, s.keys[i])
		}
	}
	label += fmt.Sprintf(`<TD PORT="next" BGCOLOR="#F5F5F5">Next: %s</TD></TR></TABLE>>`, pageLabel(s.right))
	fmt.Fprintf(w, "  page%d [label=%s];\n", s.id, label)
}

func pageLabel(id int64) string {
	if id == NoNode {
		return "NULL"
	}
	return fmt.Sprintf("%d", id)
}

func preview(v any) string {
	text := fmt.Sprint(v)
	if len(text) > 6 {
		text = text[:6] + ".."
	}
	return text
}
