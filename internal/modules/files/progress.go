package files

import "io"

// progressReader reports the percentage read whenever it advances by at least step.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	step     int
	last     int
	report   func(pct int)
	maxShown int
}

func newProgressReader(r io.Reader, total int64, report func(pct int)) *progressReader {
	return &progressReader{r: r, total: total, step: 10, report: report, maxShown: 99}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > p.maxShown {
			pct = p.maxShown
		}
		if pct-p.last >= p.step {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
