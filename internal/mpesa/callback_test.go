package mpesa

import (
	"errors"
	"testing"
)

const successCallback = `{"Body":{"stkCallback":{
  "MerchantRequestID":"29115-34620561-1",
  "CheckoutRequestID":"ws_CO_191220191020363925",
  "ResultCode":0,
  "ResultDesc":"The service request is processed successfully.",
  "CallbackMetadata":{"Item":[
    {"Name":"Amount","Value":100},
    {"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
    {"Name":"Balance"},
    {"Name":"TransactionDate","Value":20191219102115},
    {"Name":"PhoneNumber","Value":254712345678},
    {"Name":"AccountReference","Value":"ACT-u1-1700000000000"}
  ]}}}}`

func TestParseCallback_Success(t *testing.T) {
	cb, err := ParseCallback([]byte(successCallback))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if cb.Code() != ResultSuccess {
		t.Fatalf("code = %d", cb.Code())
	}
	if got := cb.Reference(); got != "ACT-u1-1700000000000" {
		t.Fatalf("reference = %q", got)
	}
	if got := cb.Item("PhoneNumber"); got != "254712345678" {
		t.Fatalf("phone = %q", got)
	}
	if got := cb.Item("TransactionDate"); got != "20191219102115" {
		t.Fatalf("date = %q", got)
	}
	if _, ok := cb.Metadata()["Balance"]; ok {
		t.Fatal("valueless items should be skipped")
	}
}

func TestParseCallback_Cases(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		code    int
		ref     string
		wantErr bool
	}{
		{"cancel with top-level ref", `{"Body":{"stkCallback":{"ResultCode":1032,"ResultDesc":"Request cancelled by user","AccountReference":"DEP-u2-5"}}}`, 1032, "DEP-u2-5", false},
		{"string result code", `{"Body":{"stkCallback":{"ResultCode":"1","AccountReference":"x"}}}`, 1, "x", false},
		{"success falls back to top-level", `{"Body":{"stkCallback":{"ResultCode":0,"AccountReference":"UPG-u3-9"}}}`, 0, "UPG-u3-9", false},
		{"failure falls back to metadata", `{"Body":{"stkCallback":{"ResultCode":2001,"CallbackMetadata":{"Item":[{"Name":"AccountReference","Value":"m"}]}}}}`, 2001, "m", false},
		{"no reference", `{"Body":{"stkCallback":{"ResultCode":1}}}`, 1, "", false},
		{"missing result code", `{"Body":{"stkCallback":{"ResultDesc":"?"}}}`, 0, "", true},
		{"missing envelope", `{"foo":1}`, 0, "", true},
		{"not json", `nope`, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := ParseCallback([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedCallback) {
					t.Fatalf("want ErrMalformedCallback, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if cb.Code() != tt.code || cb.Reference() != tt.ref {
				t.Fatalf("code=%d ref=%q", cb.Code(), cb.Reference())
			}
		})
	}
}
