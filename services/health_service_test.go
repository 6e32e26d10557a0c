package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fixedStore StoreStatus

func (f fixedStore) Status() StoreStatus { return StoreStatus(f) }

func probe(name string, critical bool, err error) Probe {
	return Probe{Name: name, Critical: critical, Check: func(context.Context) (map[string]interface{}, error) {
		return nil, err
	}}
}

func TestHealthReportStatus(t *testing.T) {
	loaded := fixedStore{LastLoad: time.Now(), Absences: 3}
	tests := []struct {
		name   string
		probes []Probe
		store  StoreStatusProvider
		want   string
		code   int
	}{
		{name: "all up", probes: []Probe{probe("mysql", true, nil), probe("redis", false, nil)}, store: loaded, want: overallStatusOK, code: http.StatusOK},
		{name: "disabled is not a failure", probes: []Probe{probe("redis", false, ErrProbeDisabled)}, store: loaded, want: overallStatusOK, code: http.StatusOK},
		{name: "optional down degrades", probes: []Probe{probe("mysql", true, nil), probe("documents", false, errors.New("no bucket"))}, store: loaded, want: overallStatusDegraded, code: http.StatusOK},
		{name: "critical down", probes: []Probe{probe("mysql", true, errors.New("refused")), probe("redis", false, errors.New("refused"))}, store: loaded, want: overallStatusCritical, code: http.StatusServiceUnavailable},
		{name: "store never loaded", store: fixedStore{}, want: overallStatusDegraded, code: http.StatusOK},
		{name: "store load error", store: fixedStore{LastLoad: time.Now(), Error: "timeout"}, want: overallStatusDegraded, code: http.StatusOK},
		{name: "no store attached", want: overallStatusOK, code: http.StatusOK},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc := NewHealthService("", "", tc.probes...)
			if tc.store != nil {
				svc.SetStore(tc.store)
			}
			report := svc.Report(context.Background())
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s (%+v)", tc.want, report.Status, report.Dependencies)
			}
			if code := svc.HTTPStatus(report.Status); code != tc.code {
				t.Fatalf("expected http %d, got %d", tc.code, code)
			}
			if len(report.Dependencies) != len(tc.probes) {
				t.Fatalf("expected %d dependencies, got %d", len(tc.probes), len(report.Dependencies))
			}
		})
	}
}

func TestHealthReportDependencyOrder(t *testing.T) {
	svc := NewHealthService("Faltas", "2.0.0", probe("mysql", true, nil))
	svc.AddProbe(probe("redis", false, ErrProbeDisabled))
	svc.AddProbe(probe("documents", false, errors.New("forbidden")))

	report := svc.Report(context.Background())
	want := []struct{ name, status string }{
		{"mysql", dependencyStatusUp},
		{"redis", dependencyStatusDisabled},
		{"documents", dependencyStatusDown},
	}
	for i, w := range want {
		dep := report.Dependencies[i]
		if dep.Name != w.name || dep.Status != w.status {
			t.Fatalf("dependency %d: expected %s/%s, got %s/%s", i, w.name, w.status, dep.Name, dep.Status)
		}
	}
	if report.Dependencies[2].Error != "forbidden" {
		t.Fatalf("expected probe error to be reported, got %q", report.Dependencies[2].Error)
	}
	if report.Service != "Faltas" || report.Version != "2.0.0" {
		t.Fatalf("unexpected identity %s %s", report.Service, report.Version)
	}
}

func TestHealthProbeTimeout(t *testing.T) {
	svc := NewHealthService("", "", Probe{Name: "slow", Critical: true, Check: func(ctx context.Context) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	svc.SetTimeout(20 * time.Millisecond)

	report := svc.Report(context.Background())
	if report.Status != overallStatusCritical || report.Dependencies[0].Status != dependencyStatusDown {
		t.Fatalf("expected timed out probe to be down, got %+v", report.Dependencies[0])
	}
}
