package importer

// Stage is the phase an import is in.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageDepthMap    Stage = "depthmap"
	StageFrames      Stage = "frames"
	StageComplete    Stage = "complete"
)

// Progress reports how far an import has come.
type Progress struct {
	Stage   Stage   `json:"stage"`
	Message string  `json:"message"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// ProgressCallback is called to report import progress.
type ProgressCallback func(Progress)

func report(cb ProgressCallback, stage Stage, current, total int, message string) {
	if cb == nil {
		return
	}
	p := Progress{Stage: stage, Message: message, Current: current, Total: total}
	if total > 0 {
		p.Percent = float64(current) / float64(total) * 100
	}
	cb(p)
}
