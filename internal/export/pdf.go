/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"storylens/internal/macro"
	"storylens/internal/storage"
)

// PDFOptions controls the proof export.
// Units are points (pt). Built-in Helvetica and Courier keep the file small
// and text vector; non cp1252 runes are replaced.
type PDFOptions struct {
	PageSize      string  // "A4" (default) or "Letter"
	FontSize      float64 // body size, default 10
	IncludeSystem bool    // include Startup, Footer, Images, Mappers and Evidence data
	Margin        float64 // default 42
}

// ProofPDF exports a reading proof: a title page, then one section per
// passage with its text followed by the macro commands and evidence
// references found in it.
func ProofPDF(h *storage.StoryHandle, outPath string, opt PDFOptions) (string, error) {
	if h == nil {
		return "", fmt.Errorf("story handle is nil")
	}
	out, err := resolveOut(h, outPath)
	if err != nil {
		return "", err
	}
	if opt.PageSize == "" {
		opt.PageSize = "A4"
	}
	if opt.FontSize <= 0 {
		opt.FontSize = 10
	}
	if opt.Margin <= 0 {
		opt.Margin = 42
	}
	st := h.Snapshot()

	pdf := gofpdf.New("P", "pt", opt.PageSize, "")
	pdf.SetMargins(opt.Margin, opt.Margin, opt.Margin)
	pdf.SetAutoPageBreak(true, opt.Margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(st.Name+" - proof", true)
	pdf.SetCreator("storylens", false)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-opt.Margin + 12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s  |  %d", tr(st.Name), pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	// Title page
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 24)
	pdf.MultiCell(0, 30, tr(st.Name), "", "L", false)
	pdf.SetFont("Helvetica", "", 11)
	passages := orderedPassages(st, opt.IncludeSystem)
	for _, line := range []string{
		"IFID: " + st.IFID,
		fmt.Sprintf("Format: %s %s", st.Format, st.FormatVersion),
		fmt.Sprintf("Passages: %d", len(passages)),
	} {
		pdf.CellFormat(0, 16, tr(line), "", 1, "L", false, 0, "")
	}

	lineH := opt.FontSize * 1.35
	for _, p := range passages {
		pdf.AddPage()
		pdf.Bookmark(tr(p.Name), 0, -1)
		pdf.SetFont("Helvetica", "B", 16)
		pdf.MultiCell(0, 20, tr(p.Name), "", "L", false)
		if len(p.Tags) > 0 {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.MultiCell(0, 12, tr("Tags: "+strings.Join(p.Tags, ", ")), "", "L", false)
		}
		pdf.Ln(6)
		pdf.SetFont("Courier", "", opt.FontSize)
		pdf.MultiCell(0, lineH, tr(p.Text), "", "L", false)

		cmds := macro.ScanCommands(p.Text)
		refs := macro.ExtractEvidenceReferences(p.Text)
		if len(cmds) > 0 {
			section(pdf, "Commands")
			for _, c := range cmds {
				pdf.MultiCell(0, lineH, tr(fmt.Sprintf("%s  [%d-%d]  %s", c.Type, c.Span.Start, c.Span.End, oneLine(c.Value))), "", "L", false)
			}
		}
		if len(refs) > 0 {
			section(pdf, "Evidence")
			for _, r := range refs {
				pdf.MultiCell(0, lineH, tr(fmt.Sprintf("%s  [%d-%d]", r.Name, r.Span.Start, r.Span.End)), "", "L", false)
			}
		}
	}

	if err := pdf.OutputFileAndClose(out); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return out, nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(8)
	pdf.SetDrawColor(160, 160, 160)
	x, y := pdf.GetXY()
	w, _ := pdf.GetPageSize()
	l, _, r, _ := pdf.GetMargins()
	pdf.Line(x, y, w-r, y)
	pdf.SetX(l)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 14, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 9)
}

// oneLine collapses line breaks so long commands stay compact.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
