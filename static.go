package main

import _ "embed"

// indexHTML is the embedded party page template.
//
//go:embed web/index.html
var indexHTML string

// styleCSS is the embedded CSS stylesheet.
//
//go:embed web/style.css
var styleCSS string

// appJS is the embedded JavaScript application code.
//
//go:embed web/app.js
var appJS string

// faviconSVG is the embedded favicon SVG template, filled with theme colours.
//
//go:embed web/favicon.svg
var faviconSVG string
