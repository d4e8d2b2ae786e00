// Command aeroctl is the operator CLI for the governance gateway. Every
// subcommand talks to a running gateway over HTTP except hash-trace, which
// recomputes a trace integrity hash offline.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"aerogate/pkg/audit"
	"aerogate/pkg/httpx"
	"aerogate/pkg/models"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "policy-check":
		return policyCheck(args[1:], out)
	case "invoke":
		return invoke(args[1:], out)
	case "request-approval":
		return requestApproval(args[1:], out)
	case "approve":
		return approve(args[1:], out)
	case "trace":
		return getTrace(args[1:], out)
	case "report":
		return report(args[1:], out)
	case "hash-trace":
		return hashTrace(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "aeroctl commands:")
	fmt.Fprintln(out, "  policy-check --user <id> --tier R1 --capability tool_invocation")
	fmt.Fprintln(out, "  invoke --tool get_flight_status --params '{\"flight_number\":\"NZ1\"}' --user <id> --tier R1")
	fmt.Fprintln(out, "  request-approval --tool create_work_order --params <json> --user <id> --query <text>")
	fmt.Fprintln(out, "  approve --request <id> --approver <id> [--deny] [--notes <text>]")
	fmt.Fprintln(out, "  trace --id <trace_id>")
	fmt.Fprintln(out, "  report --tier R2 [--start <rfc3339>] [--end <rfc3339>]")
	fmt.Fprintln(out, "  hash-trace --trace trace.json")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// gatewayFlags binds the connection flags shared by every online command.
type gatewayFlags struct {
	url   *string
	token *string
	as    *string
}

func bindGatewayFlags(fs *flag.FlagSet) gatewayFlags {
	base := os.Getenv("AEROGATE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return gatewayFlags{
		url:   fs.String("url", base, "gateway base URL"),
		token: fs.String("token", os.Getenv("AEROGATE_TOKEN"), "bearer token"),
		as:    fs.String("as", "", "acting user id for the X-User-ID header"),
	}
}

func (g gatewayFlags) headers() map[string]string {
	h := map[string]string{}
	if *g.token != "" {
		h["Authorization"] = "Bearer " + *g.token
	}
	if *g.as != "" {
		h["X-User-ID"] = *g.as
	}
	return h
}

func (g gatewayFlags) call(method, path string, body interface{}, out io.Writer) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, resp, err := httpx.RequestJSON(ctx, nil, method, *g.url+path, raw, g.headers(), 1, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, resp, "", "  ") == nil {
		fmt.Fprintln(out, pretty.String())
	} else {
		fmt.Fprintln(out, string(resp))
	}
	if status >= 400 {
		return fmt.Errorf("gateway returned %d", status)
	}
	return nil
}

func policyCheck(args []string, out io.Writer) error {
	fs := newFlagSet("policy-check")
	gw := bindGatewayFlags(fs)
	user := fs.String("user", "", "user id")
	tier := fs.String("tier", "", "risk tier")
	capability := fs.String("capability", "", "capability name")
	domain := fs.String("domain", "", "business domain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tier == "" || *capability == "" {
		return errors.New("tier and capability required")
	}
	return gw.call(http.MethodPost, "/v1/policy/check", map[string]interface{}{
		"user_id":         *user,
		"risk_tier":       *tier,
		"capability":      *capability,
		"business_domain": *domain,
	}, out)
}

func invoke(args []string, out io.Writer) error {
	fs := newFlagSet("invoke")
	gw := bindGatewayFlags(fs)
	tool := fs.String("tool", "", "tool id")
	params := fs.String("params", "{}", "parameters as JSON object")
	user := fs.String("user", "", "user id")
	tier := fs.String("tier", "R1", "risk tier")
	trace := fs.String("trace", "", "trace id")
	idemKey := fs.String("idempotency-key", "", "idempotency key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tool == "" {
		return errors.New("tool required")
	}
	parameters := map[string]interface{}{}
	if err := json.Unmarshal([]byte(*params), &parameters); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return gw.call(http.MethodPost, "/v1/tools/invoke", map[string]interface{}{
		"tool_id":         *tool,
		"parameters":      parameters,
		"user_id":         *user,
		"risk_tier":       *tier,
		"trace_id":        *trace,
		"idempotency_key": *idemKey,
	}, out)
}

func requestApproval(args []string, out io.Writer) error {
	fs := newFlagSet("request-approval")
	gw := bindGatewayFlags(fs)
	tool := fs.String("tool", "", "tool id")
	params := fs.String("params", "{}", "parameters as JSON object")
	user := fs.String("user", "", "requesting user id")
	session := fs.String("session", "", "session id")
	query := fs.String("query", "", "originating query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tool == "" || *user == "" {
		return errors.New("tool and user required")
	}
	parameters := map[string]interface{}{}
	if err := json.Unmarshal([]byte(*params), &parameters); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return gw.call(http.MethodPost, "/v1/approvals", map[string]interface{}{
		"tool_id":      *tool,
		"parameters":   parameters,
		"requested_by": *user,
		"session_id":   *session,
		"query":        *query,
	}, out)
}

func approve(args []string, out io.Writer) error {
	fs := newFlagSet("approve")
	gw := bindGatewayFlags(fs)
	request := fs.String("request", "", "approval request id")
	approver := fs.String("approver", "", "approver user id")
	deny := fs.Bool("deny", false, "record a denial instead of an approval")
	notes := fs.String("notes", "", "decision notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *request == "" || *approver == "" {
		return errors.New("request and approver required")
	}
	return gw.call(http.MethodPost, "/v1/approvals/"+*request+"/approve", map[string]interface{}{
		"approver_id": *approver,
		"approved":    !*deny,
		"notes":       *notes,
	}, out)
}

func getTrace(args []string, out io.Writer) error {
	fs := newFlagSet("trace")
	gw := bindGatewayFlags(fs)
	id := fs.String("id", "", "trace id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("id required")
	}
	return gw.call(http.MethodGet, "/v1/traces/"+*id, nil, out)
}

func report(args []string, out io.Writer) error {
	fs := newFlagSet("report")
	gw := bindGatewayFlags(fs)
	tier := fs.String("tier", "", "risk tier filter")
	start := fs.String("start", "", "period start, RFC3339")
	end := fs.String("end", "", "period end, RFC3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/v1/reports/compliance?risk_tier=" + *tier
	if *start != "" {
		path += "&start=" + *start
	}
	if *end != "" {
		path += "&end=" + *end
	}
	return gw.call(http.MethodGet, path, nil, out)
}

func hashTrace(args []string, out io.Writer) error {
	fs := newFlagSet("hash-trace")
	tracePath := fs.String("trace", "", "trace json file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" {
		return errors.New("trace required")
	}
	raw, err := os.ReadFile(*tracePath)
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	var trace models.ExecutionTrace
	if err := json.Unmarshal(raw, &trace); err != nil {
		return fmt.Errorf("parse trace: %w", err)
	}
	hash, err := audit.ComputeHash(&trace)
	if err != nil {
		return fmt.Errorf("hash trace: %w", err)
	}
	fmt.Fprintln(out, hash)
	return nil
}
