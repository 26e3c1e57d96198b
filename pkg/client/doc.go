/*
Package client provides a Go client library for the Bay REST API.

The client wraps the /v1 HTTP surface with typed methods for sandbox
lifecycle, capability execution, filesystem access, and cargo management.
Errors returned by the server are decoded back into bayerr.Error values,
so callers can branch on the same public codes the API documents.

# Usage

Creating a client:

	import "github.com/baylabs/bay/pkg/client"

	c := client.New("http://localhost:8080", client.WithToken("my-token"))

Running code in a sandbox:

	sb, err := c.CreateSandbox(ctx, client.CreateSandboxRequest{
		ProfileID: "python-default",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.DeleteSandbox(ctx, sb.ID)

	result, err := c.ExecPython(ctx, sb.ID, "print(40 + 2)", 30)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(result.Output)

The first capability call on an idle sandbox starts its containers; while
they come up the server answers session_not_ready with a retry hint.
Callers that want blocking semantics retry on that code:

	for {
		result, err = c.ExecPython(ctx, sb.ID, code, 30)
		var be *bayerr.Error
		if errors.As(err, &be) && be.Code == bayerr.CodeSessionNotReady {
			time.Sleep(time.Duration(be.RetryAfterMS) * time.Millisecond)
			continue
		}
		break
	}

# Idempotency

Sandbox creation and browser batches accept an idempotency key. Replays
of a completed request return the stored response; concurrent duplicates
conflict.

# Thread safety

The client holds no mutable state beyond the shared http.Client and is
safe for concurrent use.
*/
package client
