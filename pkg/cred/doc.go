// Package cred stores the agent's credentials as files under the
// application's private directory.
//
// The desktop tool signs a client certificate during provisioning and
// delivers it, together with the CA certificate, into this directory. The
// agent only ever reads the bundle back to decide whether a trusted
// connection is possible and to configure mutual TLS.
//
// File names are fixed by the desktop protocol: sonarCA.crt (trust anchor),
// device.crt (client certificate), privateKey.pem (client key), app.csr
// (signing request, transient).
package cred
