package assemble

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
)

// Object numbers of the fixed document skeleton. Field widgets and text
// annotations follow firstWidget.
const (
	objCatalog = 1 + iota
	objPages
	objPage
	objAction
	objScript
	objAcroForm
	firstWidget
)

// buildPDF lays out a one-page PDF 1.7 document whose open action runs
// script. The page carries n text fields named my_field1..n and n text
// annotations named my_annot1..n. The output holds no timestamps or file
// IDs, so equal scripts give equal bytes.
func buildPDF(script string, n int) []byte {
	w := &pdfWriter{}
	w.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	var fields, annots []string
	for i := 0; i < n; i++ {
		fields = append(fields, ref(firstWidget+i))
		annots = append(annots, ref(firstWidget+n+i))
	}

	w.object(objCatalog, fmt.Sprintf("<< /Type /Catalog /Pages %s /AcroForm %s /OpenAction %s >>",
		ref(objPages), ref(objAcroForm), ref(objAction)))
	w.object(objPages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count 1 >>", ref(objPage)))
	w.object(objPage, fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox [0 0 612 792] /Annots [%s] >>",
		ref(objPages), strings.Join(slices.Concat(fields, annots), " ")))
	w.object(objAction, fmt.Sprintf("<< /Type /Action /S /JavaScript /JS %s >>", ref(objScript)))
	w.stream(objScript, []byte(script))
	w.object(objAcroForm, fmt.Sprintf("<< /Fields [%s] /DA (/Helv 0 Tf 0 g) >>", strings.Join(fields, " ")))

	for i := 0; i < n; i++ {
		y := 740 - 30*i
		w.object(firstWidget+i, fmt.Sprintf(
			"<< /Type /Annot /Subtype /Widget /FT /Tx /T (my_field%d) /V (field%d) /Rect [36 %d 236 %d] /P %s /F 4 >>",
			i+1, i+1, y, y+20, ref(objPage)))
	}
	for i := 0; i < n; i++ {
		y := 740 - 30*i
		w.object(firstWidget+n+i, fmt.Sprintf(
			"<< /Type /Annot /Subtype /Text /NM (my_annot%d) /Contents (annot%d) /Rect [300 %d 320 %d] /P %s >>",
			i+1, i+1, y, y+20, ref(objPage)))
	}

	return w.finish(objCatalog)
}

func ref(n int) string { return fmt.Sprintf("%d 0 R", n) }

type pdfWriter struct {
	buf     bytes.Buffer
	offsets []int // offsets[n-1] is the byte offset of object n
}

func (w *pdfWriter) begin(n int) {
	for len(w.offsets) < n {
		w.offsets = append(w.offsets, 0)
	}
	w.offsets[n-1] = w.buf.Len()
	fmt.Fprintf(&w.buf, "%d 0 obj\n", n)
}

func (w *pdfWriter) object(n int, body string) {
	w.begin(n)
	w.buf.WriteString(body)
	w.buf.WriteString("\nendobj\n")
}

func (w *pdfWriter) stream(n int, data []byte) {
	w.begin(n)
	fmt.Fprintf(&w.buf, "<< /Length %d >>\nstream\n", len(data))
	w.buf.Write(data)
	w.buf.WriteString("\nendstream\nendobj\n")
}

// finish writes the cross-reference table and trailer. Every xref entry
// is exactly 20 bytes.
func (w *pdfWriter) finish(root int) []byte {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n", len(w.offsets)+1)
	w.buf.WriteString("0000000000 65535 f \n")
	for _, off := range w.offsets {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root %s >>\nstartxref\n%d\n%%%%EOF\n",
		len(w.offsets)+1, ref(root), xref)
	return w.buf.Bytes()
}
