package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestOperator(t *testing.T) {
	Convey("Passwords are stored hashed", t, func() {
		op := new(Operator)
		So(op.SetPassword([]byte("hello123")), ShouldBeNil)
		So(op.Password, ShouldStartWith, "$")

		So(op.VerifyPassword([]byte("hello123")), ShouldBeNil)
		So(op.VerifyPassword([]byte("hello12")), ShouldNotBeNil)

		Convey("and a broken hash is reported, not accepted", func() {
			op.Password = "I DON'T WORK"
			So(op.VerifyPassword([]byte("hello123")).Error(), ShouldContainSubstring, "hashedSecret too short")
		})
	})

	Convey("Runs are recorded against the operator's name, or their email without one", t, func() {
		claims := &OperatorClaims{Name: "ana"}
		claims.Subject = "ana@rig"
		So(claims.Who(), ShouldEqual, "ana")
		claims.Name = ""
		So(claims.Who(), ShouldEqual, "ana@rig")
	})
}

func parseClaims(ts string) *OperatorClaims {
	claims := new(OperatorClaims)
	_, err := jwt.ParseWithClaims(ts, claims, func(*jwt.Token) (interface{}, error) { return JWT_HMAC_SECRET, nil })
	if err != nil {
		panic(err)
	}
	return claims
}

func TestJWTGeneration(t *testing.T) {
	Convey("tokens carry who the operator is and whether they are an admin", t, func() {
		ts, err := newJWT(&Operator{Email: "lead@rig", Name: "lead", Admin: true})
		So(err, ShouldBeNil)

		claims := parseClaims(ts)
		So(claims.Subject, ShouldEqual, "lead@rig")
		So(claims.Name, ShouldEqual, "lead")
		So(claims.Admin, ShouldBeTrue)
		So(claims.ExpiresAt, ShouldBeGreaterThan, time.Now().Unix())
	})

	Convey("a configured secret is used as is", t, func() {
		So(string(jwtSecret("bench-7")), ShouldEqual, "bench-7")
		So(len(jwtSecret("")), ShouldEqual, 32)
		So(jwtSecret(""), ShouldNotResemble, jwtSecret(""))
	})
}

func TestValidateJWT(t *testing.T) {
	protected := ValidateJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(operatorLabel(r)))
	}))
	adminOnly := ValidateJWT(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	serve := func(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	Convey("a token is accepted from the header, query or cookie", t, func() {
		ts, err := newJWT(&Operator{Email: "operator@rig"})
		So(err, ShouldBeNil)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr := serve(protected, req)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldEqual, "operator@rig")

		rr = serve(protected, httptest.NewRequest("GET", "/?jwt="+ts, nil))
		So(rr.Code, ShouldEqual, http.StatusOK)

		req = httptest.NewRequest("GET", "/", nil)
		req.AddCookie(&http.Cookie{Name: "jwt", Value: ts})
		So(serve(protected, req).Code, ShouldEqual, http.StatusOK)
	})

	Convey("missing, forged and expired tokens are refused", t, func() {
		So(serve(protected, httptest.NewRequest("GET", "/", nil)).Code, ShouldEqual, http.StatusUnauthorized)
		So(serve(protected, httptest.NewRequest("GET", "/?jwt=not.a.token", nil)).Code, ShouldEqual, http.StatusUnauthorized)

		claims := OperatorClaims{StandardClaims: jwt.StandardClaims{Subject: "old", ExpiresAt: time.Now().Add(-time.Minute).Unix()}}
		ts, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(JWT_HMAC_SECRET)
		rr := serve(protected, httptest.NewRequest("GET", "/?jwt="+ts, nil))
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, "Token has expired")
	})

	Convey("admin routes refuse plain operators", t, func() {
		plain, _ := newJWT(&Operator{Email: "tech@rig"})
		admin, _ := newJWT(&Operator{Email: "lead@rig", Admin: true})

		So(serve(adminOnly, httptest.NewRequest("GET", "/", nil)).Code, ShouldEqual, http.StatusUnauthorized)

		rr := serve(adminOnly, httptest.NewRequest("GET", "/?jwt="+plain, nil))
		So(rr.Code, ShouldEqual, http.StatusForbidden)
		So(rr.Body.String(), ShouldContainSubstring, ErrNotAdmin.Error())

		So(serve(adminOnly, httptest.NewRequest("GET", "/?jwt="+admin, nil)).Code, ShouldEqual, http.StatusNoContent)
	})
}

func login(email, password string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(&LoginPayload{Email: email, Password: password})
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBuffer(body))
	req.Header.Add("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	http.HandlerFunc(Login).ServeHTTP(rr, req)
	return rr
}

func TestLogin(t *testing.T) {
	db, err := openDb(filepath.Join(t.TempDir(), "operators.db"))
	if err != nil {
		panic(err)
	}
	defer db.Close()
	ENV.DB = db

	lead := &Operator{Email: "lead@rig", Name: "lead", Admin: true}
	lead.SetPassword([]byte("testing123"))
	ENV.DB.Save(lead)

	Convey("An operator logs in with their password", t, func() {
		rr := login("lead@rig", "testing123")
		So(rr.Code, ShouldEqual, http.StatusOK)

		var jp JWTPayload
		So(json.Unmarshal(rr.Body.Bytes(), &jp), ShouldBeNil)
		claims := parseClaims(jp.SignedToken)
		So(claims.Subject, ShouldEqual, "lead@rig")
		So(claims.Admin, ShouldBeTrue)

		Convey("and a refresh picks up a revoked admin flag", func() {
			var stored Operator
			So(ENV.DB.One("Email", "lead@rig", &stored), ShouldBeNil)
			So(ENV.DB.UpdateField(&stored, "Admin", false), ShouldBeNil)
			defer ENV.DB.UpdateField(&stored, "Admin", true)

			rr := httptest.NewRecorder()
			ValidateJWT(http.HandlerFunc(JWTRefresh)).ServeHTTP(rr, httptest.NewRequest("GET", "/?jwt="+jp.SignedToken, nil))
			So(rr.Code, ShouldEqual, http.StatusOK)

			var refreshed JWTPayload
			So(json.Unmarshal(rr.Body.Bytes(), &refreshed), ShouldBeNil)
			So(parseClaims(refreshed.SignedToken).Admin, ShouldBeFalse)
		})

		Convey("and a refresh for a removed operator is refused", func() {
			ts, _ := newJWT(&Operator{Email: "gone@rig"})
			rr := httptest.NewRecorder()
			ValidateJWT(http.HandlerFunc(JWTRefresh)).ServeHTTP(rr, httptest.NewRequest("GET", "/?jwt="+ts, nil))
			So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})

	Convey("An unknown operator is not found", t, func() {
		So(login("nobody@rig", "testing123").Code, ShouldEqual, http.StatusNotFound)
	})

	Convey("A wrong password is refused", t, func() {
		So(login("lead@rig", "testing12").Code, ShouldEqual, http.StatusForbidden)
	})

	Convey("A corrupted password hash is a server error, not a denial", t, func() {
		broken := &Operator{Email: "broken@test.case", Password: "I DON'T WORK"}
		So(ENV.DB.Save(broken), ShouldBeNil)

		So(login("broken@test.case", "testing123").Code, ShouldEqual, http.StatusInternalServerError)
	})
}
