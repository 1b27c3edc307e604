// Command smoke checks the scoring pipeline end to end on synthetic volumes
// and, with -api, the HTTP API of a running deployment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"seg-eval/internal/archive"
	"seg-eval/internal/scoring"
	"seg-eval/internal/volume"
)

const namePrefix = "Smoke_MR_seg_2024_site_x_"

var (
	// scratch is removed by fatalf, which skips deferred calls.
	scratch string
	exit    = os.Exit
)

func main() {
	base := envOr("API_BASE_URL", "http://localhost:8000")
	token := envOr("API_TOKEN", "dev-secret-token")

	baseFlag := flag.String("base", base, "API base URL (e.g., http://localhost:8000)")
	tokenFlag := flag.String("token", token, "API token for admin endpoints")
	cases := flag.Int("cases", 4, "number of synthetic cases")
	size := flag.Int("size", 16, "edge length of the synthetic volumes")
	api := flag.Bool("api", false, "also exercise the HTTP API")
	flag.Parse()

	dir, err := os.MkdirTemp("", "segeval-smoke-")
	if err != nil {
		fatalf("temp dir: %v", err)
	}
	scratch = dir
	defer os.RemoveAll(dir)

	scoreSynthetic(dir, *cases, *size)
	if *api {
		checkAPI(*baseFlag, *tokenFlag)
	}
	fmt.Println("🎉 Smoke run OK")
}

// sphere labels a ball of radius r around c.
func sphere(v *volume.LabelVolume, label int32, c [3]int, r int) {
	for z := 0; z < v.Dims[2]; z++ {
		for y := 0; y < v.Dims[1]; y++ {
			for x := 0; x < v.Dims[0]; x++ {
				dx, dy, dz := x-c[0], y-c[1], z-c[2]
				if dx*dx+dy*dy+dz*dz <= r*r {
					v.Set(x, y, z, label)
				}
			}
		}
	}
}

// scoreSynthetic builds n cases whose predictions drift further from the
// ground truth case by case, then scores them.
func scoreSynthetic(dir string, n, size int) {
	var gts, preds []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%03d.nii.gz", i+1)
		gt := volume.New(size, size, size)
		pred := volume.New(size, size, size)
		r := size / 5
		left := [3]int{size / 4, size / 2, size / 2}
		right := [3]int{3 * size / 4, size / 2, size / 2}
		sphere(gt, volume.Left, left, r)
		sphere(gt, volume.Right, right, r)
		sphere(pred, volume.Left, [3]int{left[0] + i, left[1], left[2]}, r)
		sphere(pred, volume.Right, right, r)

		g := filepath.Join(dir, "gt", namePrefix+id)
		p := filepath.Join(dir, "pred", namePrefix+id)
		for _, w := range []struct {
			path string
			vol  *volume.LabelVolume
		}{{g, gt}, {p, pred}} {
			if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
				fatalf("mkdir: %v", err)
			}
			if err := volume.Write(w.path, w.vol, volume.DefaultSpacing()); err != nil {
				fatalf("write %s: %v", w.path, err)
			}
		}
		gts, preds = append(gts, g), append(preds, p)
	}
	gsZip := filepath.Join(dir, "goldstandard.zip")
	predZip := filepath.Join(dir, "predictions.zip")
	if err := archive.Create(gsZip, gts...); err != nil {
		fatalf("zip goldstandard: %v", err)
	}
	if err := archive.Create(predZip, preds...); err != nil {
		fatalf("zip predictions: %v", err)
	}
	fmt.Printf("✅ Wrote %d synthetic cases (%d³ voxels)\n", n, size)

	res, err := scoring.NewScorer(scoring.DefaultOptions()).Evaluate(context.Background(), scoring.EvalRequest{
		GoldstandardZip: gsZip,
		PredictionsZip:  predZip,
		WorkDir:         filepath.Join(dir, "work"),
	}, nil)
	if err != nil {
		fatalf("evaluate: %v", err)
	}

	if got, want := len(res.Report.Rows()), n+6; got != want {
		fatalf("report has %d rows, want %d", got, want)
	}
	first := res.Report.Cases[0]
	if first.DSCL != 1 || first.HDL != 0 || first.RVEL != 0 {
		fatalf("identical case scored DSC_L=%v HD_L=%v RVE_L=%v", first.DSCL, first.HDL, first.RVEL)
	}
	for _, c := range res.Report.Cases {
		if c.HD95L > c.HDL || math.IsNaN(c.DSCL) {
			fatalf("case %s: HD95_L=%v HD_L=%v DSC_L=%v", c.ID, c.HD95L, c.HDL, c.DSCL)
		}
	}
	fmt.Printf("✅ Scored %d cases, Average DSC_L %s\n", res.Summary.CasesEvaluated, res.Report.Average.Cells[0])
	var buf bytes.Buffer
	if err := scoring.WriteSummaryJSON(&buf, res.Summary); err != nil {
		fatalf("summary: %v", err)
	}
	fmt.Printf("✅ Summary: %s\n", buf.String())
}

type createResp struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

func checkAPI(base, token string) {
	httpc := &http.Client{Timeout: 12 * time.Second}

	if err := getJSON(httpc, base+"/healthz", "", &map[string]any{}); err != nil {
		fatalf("healthz: %v", err)
	}
	fmt.Println("✅ API healthy")

	var created createResp
	body := map[string]any{
		"participant": "smoke-team",
		"repository":  "docker.io/library/alpine",
		"digest":      "sha256:0000000000000000000000000000000000000000000000000000000000000000",
	}
	if err := postJSON(httpc, base+"/submissions", token, body, &created); err != nil {
		fatalf("create submission: %v", err)
	}
	fmt.Printf("✅ Created submission: id=%s status=%s\n", created.SubmissionID, created.Status)

	var got map[string]any
	if err := getJSON(httpc, fmt.Sprintf("%s/submissions/%s", base, created.SubmissionID), token, &got); err != nil {
		fatalf("get submission: %v", err)
	}
	fmt.Printf("✅ Submission: %s\n", compactJSON(got))
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func postJSON(c *http.Client, url, bearer string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("POST %s -> %d: %s", url, res.StatusCode, string(b))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func getJSON(c *http.Client, url, bearer string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("GET %s -> %d: %s", url, res.StatusCode, string(b))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func compactJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	if scratch != "" {
		os.RemoveAll(scratch)
	}
	exit(1)
}
