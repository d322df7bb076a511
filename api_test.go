package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodedInternet/gopneumatic/rig"
	"github.com/CodedInternet/gopneumatic/rig/record"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAPI(t *testing.T) {
	dir := t.TempDir()
	db, err := openDb(filepath.Join(dir, "api.db"))
	if err != nil {
		panic(err)
	}
	defer db.Close()
	ENV.DB = db
	ENV.Index, err = record.NewIndex(db)
	if err != nil {
		panic(err)
	}

	cfg := rig.DefaultConfig()
	cfg.Channels = []int{3, 6}
	cfg.Targets = rig.Targets{5, 5}
	ENV.Session, err = rig.NewSession(cfg, nil)
	if err != nil {
		panic(err)
	}

	csvPath := filepath.Join(dir, "Experiment_1.csv")
	os.WriteFile(csvPath, []byte("time\n"), 0644)
	record.WriteSidecar(csvPath, record.Metadata{Name: "Experiment_1", ExperimentType: "step"})
	ENV.Index.Put(record.Metadata{
		Name:           "Experiment_1",
		Path:           csvPath,
		Timestamp:      "2024-03-07T10:00:00.000000",
		ExperimentType: "step",
		SampleCount:    12000,
	})

	dated := filepath.Join(dir, "March-07", "Experiment_1.csv")
	os.MkdirAll(filepath.Dir(dated), 0755)
	os.WriteFile(dated, []byte("time\n"), 0644)
	ENV.Index.Put(record.Metadata{
		Name:           "March-07/Experiment_1",
		Path:           dated,
		Timestamp:      "2024-03-07T12:00:00.000000",
		ExperimentType: "sine",
	})

	router := Router()
	tech, _ := newJWT(&Operator{Email: "tech@rig", Name: "tech"})
	lead, _ := newJWT(&Operator{Email: "lead@rig", Name: "lead", Admin: true})

	as := func(token, method, url string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, url, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	do := func(method, url string, body interface{}, auth bool) *httptest.ResponseRecorder {
		if auth {
			return as(tech, method, url, body)
		}
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, url, &buf)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	Convey("status is public", t, func() {
		rr := do("GET", "/api/status", nil, false)
		So(rr.Code, ShouldEqual, http.StatusOK)

		var st rig.Status
		So(json.Unmarshal(rr.Body.Bytes(), &st), ShouldBeNil)
		So(st.State, ShouldEqual, "idle")
		So(st.Channels, ShouldResemble, []int{3, 6})
	})

	Convey("stopping needs an operator", t, func() {
		So(do("POST", "/api/stop", nil, false).Code, ShouldEqual, http.StatusUnauthorized)
		So(do("POST", "/api/stop", nil, true).Code, ShouldEqual, http.StatusAccepted)
		So(do("POST", "/api/describe", DescribePayload{"long hold"}, true).Code, ShouldEqual, http.StatusNoContent)
	})

	Convey("experiments are listed and shown", t, func() {
		rr := do("GET", "/api/experiments", nil, false)
		So(rr.Code, ShouldEqual, http.StatusOK)
		var ms []record.Metadata
		So(json.Unmarshal(rr.Body.Bytes(), &ms), ShouldBeNil)
		So(len(ms), ShouldEqual, 2)
		So(ms[0].SampleCount, ShouldEqual, 12000)

		So(do("GET", "/api/experiments/Experiment_1", nil, false).Code, ShouldEqual, http.StatusOK)
		So(do("GET", "/api/experiments/Experiment_9", nil, false).Code, ShouldEqual, http.StatusNotFound)

		rr = do("GET", "/api/experiments/March-07%2FExperiment_1", nil, false)
		So(rr.Code, ShouldEqual, http.StatusOK)
		var m record.Metadata
		So(json.Unmarshal(rr.Body.Bytes(), &m), ShouldBeNil)
		So(m.ExperimentType, ShouldEqual, "sine")
	})

	Convey("operators can edit experiments", t, func() {
		rr := do("POST", "/api/experiments/Experiment_1/describe", DescribePayload{"fixed base"}, true)
		So(rr.Code, ShouldEqual, http.StatusOK)
		m, err := record.ReadSidecar(csvPath)
		So(err, ShouldBeNil)
		So(m.Description, ShouldEqual, "fixed base")
		So(m.DescribedBy, ShouldEqual, "tech")
	})

	Convey("only admins rename and delete experiments", t, func() {
		So(do("POST", "/api/experiments/Experiment_1/rename", RenamePayload{"bend_1"}, true).Code, ShouldEqual, http.StatusForbidden)
		So(do("DELETE", "/api/experiments/Experiment_1", nil, true).Code, ShouldEqual, http.StatusForbidden)

		So(as(lead, "POST", "/api/experiments/Experiment_1/rename", RenamePayload{}).Code, ShouldEqual, http.StatusBadRequest)
		So(as(lead, "POST", "/api/experiments/Experiment_1/rename", RenamePayload{"a/b"}).Code, ShouldEqual, http.StatusBadRequest)

		rr := as(lead, "POST", "/api/experiments/Experiment_1/rename", RenamePayload{"bend_1"})
		So(rr.Code, ShouldEqual, http.StatusOK)
		_, err := os.Stat(filepath.Join(dir, "bend_1.csv"))
		So(err, ShouldBeNil)

		So(do("DELETE", "/api/experiments/bend_1", nil, false).Code, ShouldEqual, http.StatusUnauthorized)
		So(as(lead, "DELETE", "/api/experiments/bend_1?files=true", nil).Code, ShouldEqual, http.StatusNoContent)
		So(do("GET", "/api/experiments/bend_1", nil, false).Code, ShouldEqual, http.StatusNotFound)
		_, err = os.Stat(filepath.Join(dir, "bend_1.csv"))
		So(os.IsNotExist(err), ShouldBeTrue)
	})
}
